package bridge

import (
	"testing"
	"time"

	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

// fakeClock lets the tests move time instead of sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testRegistry(t *testing.T) (*Registry, *fakeClock, *EventBus) {
	t.Helper()
	bus := NewEventBus()
	registry := NewRegistry(bus, 5*time.Minute, 15*time.Second)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	registry.now = clock.Now
	return registry, clock, bus
}

func addBridge(t *testing.T, r *Registry, address string, stats xmpp.BridgeStats) *Bridge {
	t.Helper()
	b := r.AddBridge(jid.MustParse(address), "2.1")
	b.SetStats(stats)
	return b
}

func TestAddBridgeIsIdempotent(t *testing.T) {
	registry, _, _ := testRegistry(t)

	first := registry.AddBridge(jid.MustParse("jvb1.example.com"), "2.1")
	second := registry.AddBridge(jid.MustParse("jvb1.example.com"), "2.2")
	assert.Same(t, first, second)
	assert.Equal(t, 1, registry.KnownCount())
}

func TestOperationalOrdering(t *testing.T) {
	registry, _, _ := testRegistry(t)

	b1 := addBridge(t, registry, "jvb1.example.com", xmpp.BridgeStats{VideoStreamCount: 10})
	b2 := addBridge(t, registry, "jvb2.example.com", xmpp.BridgeStats{VideoStreamCount: 3})
	b3 := addBridge(t, registry, "jvb3.example.com", xmpp.BridgeStats{VideoStreamCount: 3})

	operational := registry.ListOperational()
	require.Len(t, operational, 3)
	// Ascending load, discovery order breaks the tie between b2 and b3.
	assert.Equal(t, []*Bridge{b2, b3, b1}, operational)

	// A non-operational bridge sorts behind all operational ones and drops
	// out of the operational list.
	b2.SetOperational(false)
	operational = registry.ListOperational()
	assert.Equal(t, []*Bridge{b3, b1}, operational)
	assert.False(t, Less(b2, b1))
	assert.True(t, Less(b1, b2))
}

func TestEstimatedLoadIncludesDiff(t *testing.T) {
	registry, _, _ := testRegistry(t)

	b1 := addBridge(t, registry, "jvb1.example.com", xmpp.BridgeStats{VideoStreamCount: 5})
	registry.OnVideoStreamsChanged(b1.JID(), 3)
	assert.Equal(t, 8, b1.EstimatedVideoStreamCount())

	// A new stats report resets the diff, even when the count is unchanged.
	b1.SetStats(xmpp.BridgeStats{VideoStreamCount: 5})
	assert.Equal(t, 5, b1.EstimatedVideoStreamCount())
}

func TestFailureResetThreshold(t *testing.T) {
	registry, clock, _ := testRegistry(t)
	b1 := addBridge(t, registry, "jvb1.example.com", xmpp.BridgeStats{})

	b1.SetOperational(false)
	assert.False(t, b1.IsOperational())

	clock.Advance(5*time.Minute - time.Second)
	assert.False(t, b1.IsOperational())

	// The bridge recovers purely by the passage of time, no stats needed.
	clock.Advance(2 * time.Second)
	assert.True(t, b1.IsOperational())
}

func TestShutdownInProgressMakesNonOperational(t *testing.T) {
	registry, _, _ := testRegistry(t)
	b1 := addBridge(t, registry, "jvb1.example.com", xmpp.BridgeStats{})

	b1.SetStats(xmpp.BridgeStats{ShutdownInProgress: true})
	assert.False(t, b1.IsOperational())

	b1.SetStats(xmpp.BridgeStats{ShutdownInProgress: false})
	assert.True(t, b1.IsOperational())
}

func TestStatsExpiry(t *testing.T) {
	registry, clock, _ := testRegistry(t)
	b1 := addBridge(t, registry, "jvb1.example.com", xmpp.BridgeStats{VideoStreamCount: 9, Region: "us"})

	clock.Advance(20 * time.Second)
	registry.expireStats()

	assert.Equal(t, 0, b1.EstimatedVideoStreamCount())
	assert.Equal(t, "", b1.Region())
}

func TestHealthFailureMarksNonOperational(t *testing.T) {
	registry, _, bus := testRegistry(t)
	registry.Start()
	t.Cleanup(registry.Stop)

	b1 := addBridge(t, registry, "jvb1.example.com", xmpp.BridgeStats{})
	bus.Publish(Event{Type: EventHealthCheckFailed, Bridge: b1.JID()})

	assert.Eventually(t, func() bool {
		return !b1.IsOperational()
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveBridgePublishesDownEvent(t *testing.T) {
	registry, _, bus := testRegistry(t)
	events, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)

	address := jid.MustParse("jvb1.example.com")
	registry.AddBridge(address, "")
	registry.RemoveBridge(address)

	up := <-events
	assert.Equal(t, EventBridgeUp, up.Type)
	down := <-events
	assert.Equal(t, EventBridgeDown, down.Type)
	assert.Equal(t, "jvb1.example.com", down.Bridge)
	assert.Equal(t, 0, registry.KnownCount())
}
