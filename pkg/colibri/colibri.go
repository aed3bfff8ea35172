// Package colibri defines the control interface through which the focus
// allocates media channels on a videobridge. The wire protocol lives in the
// host process; the core only sees allocation requests and replies.
package colibri

import (
	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
)

// Channels is the reply to a successful allocation: the per-content
// transports the endpoint should use, the SCTP association if a data
// content was requested and any bridge-owned sources (e.g. mixed audio)
// that belong into the offer.
type Channels struct {
	// ID of the channel bundle on the bridge.
	ID string
	// Transport per content name.
	Transports map[string]*xmpp.Transport
	// SCTP association for the data content, nil when none was allocated.
	Sctp *xmpp.SctpMap
	// Sources owned by the bridge itself, advertised with owner "jvb".
	Sources *source.MediaSourceMap
}

// Error conditions reported by the bridge.
const (
	ConditionBadRequest = "bad-request"
)

// AllocationError is an error reply to a channel request. The core only
// distinguishes bad-request (the bridge rejected the description) from
// everything else (the bridge itself is failing).
type AllocationError struct {
	Condition string
	Text      string
}

func (e *AllocationError) Error() string {
	if e.Text != "" {
		return "channel allocation failed: " + e.Condition + ": " + e.Text
	}
	return "channel allocation failed: " + e.Condition
}

// BadRequest reports whether the bridge rejected the request rather than
// failing itself.
func (e *AllocationError) BadRequest() bool {
	return e.Condition == ConditionBadRequest
}

// Conference is the per-bridge, per-conference colibri state. One instance
// drives all allocations of one conference on one bridge; it is disposed
// when the conference stops using the bridge.
type Conference interface {
	// CreateChannels allocates channels for one endpoint. The contents
	// describe the media types and options requested.
	CreateChannels(endpointID, statsID string, initiator bool, contents []xmpp.Content) (*Channels, error)
	// UpdateChannels pushes updated RTP descriptions and sources for
	// already-allocated channels, e.g. after a session answer.
	UpdateChannels(channels *Channels, contents []xmpp.Content, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) error
	// ExpireChannels releases the endpoint's channels on the bridge.
	ExpireChannels(channels *Channels)
	// Expire releases the whole colibri conference on the bridge.
	Expire()
	// IsDisposed reports whether the conference has been expired or lost.
	IsDisposed() bool
}

// Factory opens colibri conferences on bridges. Implemented by the host
// process next to its XMPP connection.
type Factory interface {
	NewConference(bridgeJID, roomName string) Conference
}
