package focus_test

import (
	"testing"
	"time"

	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/config"
	"github.com/jitsi/jicofo-go/pkg/focus"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

func testFocus(t *testing.T) (*focus.Focus, *xmpp.Loopback) {
	t.Helper()

	host := xmpp.NewLoopback()
	service := focus.New(config.Default(), focus.Adapters{
		Session:   host,
		Discovery: host,
		Colibri:   colibri.NewLoopbackFactory(),
		Bridges:   host,
		Health:    host,
		ChatRooms: func(room jid.JID) xmpp.ChatRoom { return host.Room(room) },
	})
	service.Start()
	t.Cleanup(service.Stop)
	return service, host
}

func TestConferenceForIsIdempotent(t *testing.T) {
	service, _ := testFocus(t)

	room := jid.MustParse("meeting@conference.example.com")
	first := service.ConferenceFor(room)
	second := service.ConferenceFor(jid.MustParse("meeting@conference.example.com/focus"))
	assert.Same(t, first, second)
}

func TestDiscoveryFeedsRegistry(t *testing.T) {
	service, host := testFocus(t)

	host.InjectBridge(jid.MustParse("jvb1.example.com"), "2.1", xmpp.BridgeStats{Region: "us"})
	require.Eventually(t, func() bool {
		return service.Registry().KnownCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	b := service.Registry().Get("jvb1.example.com")
	require.NotNil(t, b)
	assert.Equal(t, "us", b.Region())
}

func TestEndToEndJoinOverLoopback(t *testing.T) {
	service, host := testFocus(t)
	host.InjectBridge(jid.MustParse("jvb1.example.com"), "2.1", xmpp.BridgeStats{})

	room := jid.MustParse("meeting@conference.example.com")
	conf := service.ConferenceFor(room)

	occupant := jid.MustParse("meeting@conference.example.com/alice")
	conf.OnMemberJoined(occupant, "participant")

	require.Eventually(t, func() bool {
		p := conf.Participant(occupant)
		return p != nil && p.IsSessionEstablished()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConferenceEndedDropsFromIndex(t *testing.T) {
	service, _ := testFocus(t)

	room := jid.MustParse("meeting@conference.example.com")
	first := service.ConferenceFor(room)
	first.Dispose()
	service.ConferenceEnded(room)

	second := service.ConferenceFor(room)
	assert.NotSame(t, first, second)
}
