package xmpp

import (
	"errors"
	"time"

	"github.com/jitsi/jicofo-go/pkg/source"
	"mellium.im/xmpp/jid"
)

// The interfaces below, together with the colibri control interface in
// pkg/colibri, are the only way the core talks to the outside world. They are implemented by the process hosting the focus (an XMPP
// component connection in production, fakes in tests); the core does not
// care how they map to the wire.

// RoleModerator is the only chat-room role the core compares against.
const RoleModerator = "moderator"

// ChatRoomListener receives membership events of one conference room. The
// host calls it from its own receive loop; implementations must not block.
type ChatRoomListener interface {
	OnMemberJoined(occupant jid.JID, role string)
	OnMemberLeft(occupant jid.JID)
	OnRoleChanged(occupant jid.JID, role string)
	OnRoomDestroyed()
}

// ChatRoom is the outbound side of a conference room.
type ChatRoom interface {
	// RoomJID returns the bare JID of the room.
	RoomJID() jid.JID
	// SendPresenceExtension publishes an opaque extension element with the
	// focus presence, e.g. the focus version or a bridge-down notification.
	SendPresenceExtension(extension any)
	// MemberRegion returns the region an occupant advertised in its
	// presence, or the empty string.
	MemberRegion(occupant jid.JID) string
}

// VersionExtension is published with the focus presence on conference start.
type VersionExtension struct {
	Version string
}

// BridgeDownExtension notifies the room that no bridge is available for the
// conference.
type BridgeDownExtension struct{}

// SessionAPI drives the session-negotiation protocol with one participant.
// Requests with a reply block until the ack arrives or the reply timeout
// elapses.
type SessionAPI interface {
	// InitiateSession sends the initial offer. Returns whether the peer
	// acknowledged it.
	InitiateSession(target jid.JID, contents []Content, startMuted [2]bool) (bool, error)
	// ReplaceTransport moves an established session to new transport and
	// contents (re-invite). Returns whether the peer acknowledged it.
	ReplaceTransport(target jid.JID, contents []Content, startMuted [2]bool) (bool, error)
	// SendAddSource notifies the peer about sources added to the conference.
	SendAddSource(target jid.JID, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap)
	// SendRemoveSource notifies the peer about sources removed from the conference.
	SendRemoveSource(target jid.JID, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap)
	// TerminateSession ends the session with the given peer.
	TerminateSession(target jid.JID, reason, message string)
}

// FeatureDiscovery resolves the supported features of an endpoint (a
// participant or a bridge) via its service discovery.
type FeatureDiscovery interface {
	DiscoverFeatures(target jid.JID) ([]Feature, error)
}

// BridgeListener receives bridge discovery callbacks. Stats arrive already
// parsed; see ParseStats.
type BridgeListener interface {
	BridgeUp(bridge jid.JID, version string)
	BridgeDown(bridge jid.JID)
	BridgeStats(bridge jid.JID, stats BridgeStats)
}

// BridgeDiscovery is the subscription side of bridge discovery.
type BridgeDiscovery interface {
	SubscribeBridgeUpdates(listener BridgeListener)
}

// Rediscoverer is implemented by discovery adapters that can re-query the
// full bridge list on demand, used by the periodic re-discovery timer.
type Rediscoverer interface {
	Rediscover()
}

// ErrHealthTimeout is returned by HealthAPI when the bridge did not reply
// within the given timeout.
var ErrHealthTimeout = errors.New("health check request timed out")

// HealthError is an error reply to a health-check request.
type HealthError struct {
	Condition string
}

func (e *HealthError) Error() string {
	return "health check error: " + e.Condition
}

// Error conditions that fail a bridge's health.
const (
	ConditionInternalServerError = "internal-server-error"
	ConditionServiceUnavailable  = "service-unavailable"
)

// Fatal reports whether the error condition indicates an unhealthy bridge,
// as opposed to e.g. a malformed request.
func (e *HealthError) Fatal() bool {
	return e.Condition == ConditionInternalServerError ||
		e.Condition == ConditionServiceUnavailable
}

// HealthAPI probes a bridge. Returns nil on a healthy reply, ErrHealthTimeout
// on no reply within the timeout, or a *HealthError on an error reply.
type HealthAPI interface {
	CheckHealth(bridge jid.JID, timeout time.Duration) error
}
