package conference

import (
	"github.com/google/uuid"
	"github.com/jitsi/jicofo-go/pkg/bridge"
	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/source"
)

// BridgeSession is the per-conference state on one bridge: the colibri
// conference driving allocations there, the failure flag and, in
// multi-bridge mode, the octo participant mirroring the rest of the
// conference onto this bridge. Guarded by the conference lock.
type BridgeSession struct {
	id      string
	bridge  *bridge.Bridge
	colibri colibri.Conference

	// Set when an allocation on this bridge failed; a failed session is
	// never reused and its participants are moved elsewhere.
	hasFailed bool

	// Whether any allocation ever succeeded on this bridge, i.e. whether
	// the conference is actually running on it.
	everAllocated bool

	octo *OctoParticipant
}

func newBridgeSession(b *bridge.Bridge, factory colibri.Factory, roomName string) *BridgeSession {
	return &BridgeSession{
		id:      uuid.NewString(),
		bridge:  b,
		colibri: factory.NewConference(b.JID(), roomName),
	}
}

func (s *BridgeSession) Bridge() *bridge.Bridge {
	return s.bridge
}

// OctoParticipant is the synthetic endpoint allocated on a bridge to carry
// the media of participants hosted on the other bridges of the conference.
type OctoParticipant struct {
	session *BridgeSession
	// Relay ids of the other bridges in the conference mesh.
	relays []string

	sources *source.MediaSourceMap
	groups  *source.MediaSourceGroupMap

	channels *colibri.Channels
	// Flipped when the first channel allocation completes.
	established bool
}

func newOctoParticipant(session *BridgeSession) *OctoParticipant {
	return &OctoParticipant{
		session: session,
		sources: source.NewMediaSourceMap(),
		groups:  source.NewMediaSourceGroupMap(),
	}
}

func (o *OctoParticipant) Relays() []string {
	return o.relays
}

func (o *OctoParticipant) IsSessionEstablished() bool {
	return o.established
}

func (o *OctoParticipant) Sources() *source.MediaSourceMap {
	return o.sources
}
