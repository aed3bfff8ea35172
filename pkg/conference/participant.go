package conference

import (
	"github.com/google/uuid"
	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
)

// State of a participant's session with the focus.
type State int

const (
	StateJoined State = iota
	StateInviting
	StateEstablished
	StateLeaving
	StateGone
)

func (s State) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateInviting:
		return "inviting"
	case StateEstablished:
		return "established"
	case StateLeaving:
		return "leaving"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Participant is the focus-side state of one conference member. All fields
// are guarded by the owning conference's lock; the channel allocator reaches
// them through conference methods only.
type Participant struct {
	occupant   jid.JID
	endpointID string
	statsID    string
	role       string
	region     string
	logger     *logrus.Entry

	state    State
	features []xmpp.Feature

	sources *source.MediaSourceMap
	groups  *source.MediaSourceGroupMap

	// Channels acknowledged by the bridge and the session they live on.
	channels *colibri.Channels
	session  *BridgeSession

	// The invitation currently in flight, if any.
	allocator *ChannelAllocator

	// Source deltas from other participants that arrived before this
	// participant's session was established. Drained on establishment. A
	// source that was added and then removed while queued stays in both
	// queues; both notifications are emitted.
	pendingAdd          *source.MediaSourceMap
	pendingAddGroups    *source.MediaSourceGroupMap
	pendingRemove       *source.MediaSourceMap
	pendingRemoveGroups *source.MediaSourceGroupMap
}

func newParticipant(occupant jid.JID, role, region string, logger *logrus.Entry) *Participant {
	endpointID := occupant.Resourcepart()
	return &Participant{
		occupant:   occupant,
		endpointID: endpointID,
		statsID:    uuid.NewString(),
		role:       role,
		region:     region,
		logger:     logger.WithField("endpoint", endpointID),

		state:    StateJoined,
		features: xmpp.DefaultFeatures,

		sources: source.NewMediaSourceMap(),
		groups:  source.NewMediaSourceGroupMap(),

		pendingAdd:          source.NewMediaSourceMap(),
		pendingAddGroups:    source.NewMediaSourceGroupMap(),
		pendingRemove:       source.NewMediaSourceMap(),
		pendingRemoveGroups: source.NewMediaSourceGroupMap(),
	}
}

func (p *Participant) Occupant() jid.JID {
	return p.occupant
}

func (p *Participant) EndpointID() string {
	return p.endpointID
}

func (p *Participant) Region() string {
	return p.region
}

func (p *Participant) State() State {
	return p.state
}

func (p *Participant) IsModerator() bool {
	return p.role == xmpp.RoleModerator
}

func (p *Participant) IsSessionEstablished() bool {
	return p.state == StateEstablished
}

// setFeatures stores the discovered feature set. An empty result downgrades
// to the default plain audio/video client.
func (p *Participant) setFeatures(features []xmpp.Feature) {
	if len(features) == 0 {
		features = xmpp.DefaultFeatures
	}
	p.features = features
}

func (p *Participant) Supports(feature xmpp.Feature) bool {
	return xmpp.Contains(p.features, feature)
}

func (p *Participant) SupportsLipSync() bool {
	return p.Supports(xmpp.FeatureLipSync)
}

// setAllocator installs a new channel allocator, cancelling the previous
// one synchronously. At most one allocator exists per participant.
func (p *Participant) setAllocator(allocator *ChannelAllocator) {
	if p.allocator != nil {
		p.logger.Infof("canceling previous invitation attempt")
		p.allocator.Cancel()
	}
	p.allocator = allocator
}

func (p *Participant) clearAllocator(allocator *ChannelAllocator) {
	if p.allocator == allocator {
		p.allocator = nil
	}
}

func (p *Participant) queueRemoteAdd(sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) {
	p.pendingAdd.Add(sources)
	p.pendingAddGroups.Add(groups)
}

func (p *Participant) queueRemoteRemove(sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) {
	p.pendingRemove.Add(sources)
	p.pendingRemoveGroups.Add(groups)
}

// drainPending empties the pending queues and returns their content.
func (p *Participant) drainPending() (
	add *source.MediaSourceMap, addGroups *source.MediaSourceGroupMap,
	remove *source.MediaSourceMap, removeGroups *source.MediaSourceGroupMap,
) {
	add, addGroups = p.pendingAdd, p.pendingAddGroups
	remove, removeGroups = p.pendingRemove, p.pendingRemoveGroups
	p.pendingAdd = source.NewMediaSourceMap()
	p.pendingAddGroups = source.NewMediaSourceGroupMap()
	p.pendingRemove = source.NewMediaSourceMap()
	p.pendingRemoveGroups = source.NewMediaSourceGroupMap()
	return add, addGroups, remove, removeGroups
}
