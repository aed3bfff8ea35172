package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

// fakeHealthAPI replays a scripted list of replies, then succeeds.
type fakeHealthAPI struct {
	mutex   sync.Mutex
	replies []error
	calls   int
}

func (f *fakeHealthAPI) CheckHealth(bridge jid.JID, timeout time.Duration) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls++
	if len(f.replies) > 0 {
		err := f.replies[0]
		f.replies = f.replies[1:]
		return err
	}
	return nil
}

func (f *fakeHealthAPI) callCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

// fakeDiscovery advertises the health-check capability for every target.
type fakeDiscovery struct {
	features []xmpp.Feature
	err      error
}

func (f *fakeDiscovery) DiscoverFeatures(target jid.JID) ([]xmpp.Feature, error) {
	return f.features, f.err
}

func healthSetup(t *testing.T, health *fakeHealthAPI, discovery xmpp.FeatureDiscovery) (*Registry, *EventBus, *HealthChecker) {
	t.Helper()

	bus := NewEventBus()
	registry := NewRegistry(bus, time.Minute, time.Minute)
	checker := NewHealthChecker(registry, bus, health, discovery, 40*time.Millisecond, 20*time.Millisecond)
	checker.Start()
	t.Cleanup(checker.Stop)
	return registry, bus, checker
}

func collectFailures(t *testing.T, bus *EventBus) func() int {
	t.Helper()

	events, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)

	var mutex sync.Mutex
	failures := 0
	go func() {
		for event := range events {
			if event.Type == EventHealthCheckFailed {
				mutex.Lock()
				failures++
				mutex.Unlock()
			}
		}
	}()
	return func() int {
		mutex.Lock()
		defer mutex.Unlock()
		return failures
	}
}

func TestHealthCheckRetryPublishesSingleFailure(t *testing.T) {
	// The first probe times out, the retry times out as well, everything
	// afterwards succeeds: exactly one failure must be published.
	health := &fakeHealthAPI{replies: []error{xmpp.ErrHealthTimeout, xmpp.ErrHealthTimeout}}
	discovery := &fakeDiscovery{features: []xmpp.Feature{xmpp.FeatureHealth}}
	registry, bus, _ := healthSetup(t, health, discovery)

	failures := collectFailures(t, bus)
	registry.AddBridge(jid.MustParse("jvb1.example.com"), "")

	require.Eventually(t, func() bool { return failures() == 1 }, 2*time.Second, 5*time.Millisecond)
	// The retry ran: two requests for one failure.
	assert.GreaterOrEqual(t, health.callCount(), 2)

	// The next scheduled fires succeed and must not publish again.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, failures())
}

func TestHealthCheckRecoversAfterSingleTimeout(t *testing.T) {
	health := &fakeHealthAPI{replies: []error{xmpp.ErrHealthTimeout}}
	discovery := &fakeDiscovery{features: []xmpp.Feature{xmpp.FeatureHealth}}
	registry, bus, _ := healthSetup(t, health, discovery)

	failures := collectFailures(t, bus)
	registry.AddBridge(jid.MustParse("jvb1.example.com"), "")

	// The retry succeeds, so no failure is ever published.
	require.Eventually(t, func() bool { return health.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, failures())
}

func TestFatalErrorReplyFailsImmediately(t *testing.T) {
	health := &fakeHealthAPI{replies: []error{&xmpp.HealthError{Condition: xmpp.ConditionServiceUnavailable}}}
	discovery := &fakeDiscovery{features: []xmpp.Feature{xmpp.FeatureHealth}}
	registry, bus, _ := healthSetup(t, health, discovery)

	failures := collectFailures(t, bus)
	registry.AddBridge(jid.MustParse("jvb1.example.com"), "")

	require.Eventually(t, func() bool { return failures() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNonFatalErrorReplyDoesNotFail(t *testing.T) {
	health := &fakeHealthAPI{replies: []error{&xmpp.HealthError{Condition: "feature-not-implemented"}}}
	discovery := &fakeDiscovery{features: []xmpp.Feature{xmpp.FeatureHealth}}
	registry, bus, _ := healthSetup(t, health, discovery)

	failures := collectFailures(t, bus)
	registry.AddBridge(jid.MustParse("jvb1.example.com"), "")

	require.Eventually(t, func() bool { return health.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, failures())
}

func TestBridgeWithoutHealthCapabilityIsNotProbed(t *testing.T) {
	health := &fakeHealthAPI{}
	discovery := &fakeDiscovery{features: nil}
	registry, _, _ := healthSetup(t, health, discovery)

	registry.AddBridge(jid.MustParse("jvb1.example.com"), "")

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, health.callCount())
}

func TestStopCancelsProbeTasks(t *testing.T) {
	health := &fakeHealthAPI{}
	discovery := &fakeDiscovery{features: []xmpp.Feature{xmpp.FeatureHealth}}
	registry, _, checker := healthSetup(t, health, discovery)

	registry.AddBridge(jid.MustParse("jvb1.example.com"), "")
	require.Eventually(t, func() bool { return health.callCount() >= 1 }, 2*time.Second, 5*time.Millisecond)

	checker.Stop()
	calls := health.callCount()
	time.Sleep(120 * time.Millisecond)
	assert.LessOrEqual(t, health.callCount(), calls+1)
}
