package xmpp

import (
	"sync"
	"time"

	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
)

// Loopback is an in-process host implementation: every session request is
// acknowledged, discovery returns the default feature set and no bridges
// exist until they are injected. It lets the focus run without a component
// connection, for local development and tests.
type Loopback struct {
	logger *logrus.Entry

	mutex     sync.Mutex
	listeners []BridgeListener
	regions   map[string]string
}

func NewLoopback() *Loopback {
	return &Loopback{
		logger:  logrus.WithField("component", "loopback"),
		regions: make(map[string]string),
	}
}

var (
	_ SessionAPI       = (*Loopback)(nil)
	_ FeatureDiscovery = (*Loopback)(nil)
	_ BridgeDiscovery  = (*Loopback)(nil)
	_ HealthAPI        = (*Loopback)(nil)
)

func (l *Loopback) InitiateSession(target jid.JID, contents []Content, startMuted [2]bool) (bool, error) {
	l.logger.Debugf("session-initiate to %s with %d contents", target, len(contents))
	return true, nil
}

func (l *Loopback) ReplaceTransport(target jid.JID, contents []Content, startMuted [2]bool) (bool, error) {
	l.logger.Debugf("transport-replace to %s", target)
	return true, nil
}

func (l *Loopback) SendAddSource(target jid.JID, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) {
	l.logger.Debugf("source-add to %s", target)
}

func (l *Loopback) SendRemoveSource(target jid.JID, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) {
	l.logger.Debugf("source-remove to %s", target)
}

func (l *Loopback) TerminateSession(target jid.JID, reason, message string) {
	l.logger.Debugf("session-terminate to %s: %s", target, reason)
}

func (l *Loopback) DiscoverFeatures(target jid.JID) ([]Feature, error) {
	return DefaultFeatures, nil
}

func (l *Loopback) SubscribeBridgeUpdates(listener BridgeListener) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.listeners = append(l.listeners, listener)
}

func (l *Loopback) CheckHealth(bridgeJID jid.JID, timeout time.Duration) error {
	return nil
}

// InjectBridge simulates a discovery event, e.g. from a development REPL or
// a test.
func (l *Loopback) InjectBridge(bridgeJID jid.JID, version string, stats BridgeStats) {
	l.mutex.Lock()
	listeners := append([]BridgeListener(nil), l.listeners...)
	l.mutex.Unlock()

	for _, listener := range listeners {
		listener.BridgeUp(bridgeJID, version)
		listener.BridgeStats(bridgeJID, stats)
	}
}

// Room returns a loopback chat room for the given JID.
func (l *Loopback) Room(room jid.JID) ChatRoom {
	return &loopbackRoom{host: l, room: room}
}

// SetMemberRegion records the region a member would advertise in its
// presence.
func (l *Loopback) SetMemberRegion(occupant jid.JID, region string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.regions[occupant.String()] = region
}

type loopbackRoom struct {
	host *Loopback
	room jid.JID
}

func (r *loopbackRoom) RoomJID() jid.JID {
	return r.room
}

func (r *loopbackRoom) SendPresenceExtension(extension any) {
	r.host.logger.Debugf("presence extension in %s: %T", r.room, extension)
}

func (r *loopbackRoom) MemberRegion(occupant jid.JID) string {
	r.host.mutex.Lock()
	defer r.host.mutex.Unlock()
	return r.host.regions[occupant.String()]
}
