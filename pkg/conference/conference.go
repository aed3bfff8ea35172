package conference

import (
	"sync"

	"github.com/jitsi/jicofo-go/pkg/bridge"
	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/common"
	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
)

// Services are the external collaborators a conference needs. All of them
// outlive the conference.
type Services struct {
	Registry  *bridge.Registry
	Selector  *bridge.Selector
	Session   xmpp.SessionAPI
	Discovery xmpp.FeatureDiscovery
	Colibri   colibri.Factory
	ChatRoom  xmpp.ChatRoom
	Pool      *common.Pool
}

// Conference orchestrates one conference: membership changes drive channel
// allocators, session answers feed the conference-wide source state, and
// source deltas fan out to every other participant. One mutex serialises
// all state mutation inside the conference; allocators and signalling run
// off-lock on the shared pool.
type Conference struct {
	room   jid.JID
	config Config
	logger *logrus.Entry

	registry  *bridge.Registry
	selector  *bridge.Selector
	session   xmpp.SessionAPI
	discovery xmpp.FeatureDiscovery
	colibri   colibri.Factory
	chatRoom  xmpp.ChatRoom
	pool      *common.Pool

	mutex        sync.Mutex
	participants map[string]*Participant
	sessions     []*BridgeSession
	disposed     bool
}

var _ xmpp.ChatRoomListener = (*Conference)(nil)

func New(room jid.JID, config Config, services Services) *Conference {
	c := &Conference{
		room:   room,
		config: config,
		logger: logrus.WithField("conf_id", room.String()),

		registry:  services.Registry,
		selector:  services.Selector,
		session:   services.Session,
		discovery: services.Discovery,
		colibri:   services.Colibri,
		chatRoom:  services.ChatRoom,
		pool:      services.Pool,

		participants: make(map[string]*Participant),
	}

	if config.Version != "" {
		c.chatRoom.SendPresenceExtension(xmpp.VersionExtension{Version: config.Version})
	}
	return c
}

func (c *Conference) RoomJID() jid.JID {
	return c.room
}

// OnMemberJoined creates the participant and starts its invitation.
func (c *Conference) OnMemberJoined(occupant jid.JID, role string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disposed {
		return
	}
	key := occupant.String()
	if _, exists := c.participants[key]; exists {
		c.logger.Warnf("member %s joined twice", occupant)
		return
	}

	p := newParticipant(occupant, role, c.chatRoom.MemberRegion(occupant), c.logger)
	c.participants[key] = p
	p.logger.Info("member joined")

	c.inviteParticipant(p, false)
}

// OnMemberLeft releases the participant's channels, cancels its invitation
// and removes its sources from the conference.
func (c *Conference) OnMemberLeft(occupant jid.JID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	p, ok := c.participants[occupant.String()]
	if !ok {
		return
	}
	p.state = StateLeaving
	p.logger.Info("member left")

	c.removeParticipant(p)
}

// OnRoleChanged updates the stored chat-room role.
func (c *Conference) OnRoleChanged(occupant jid.JID, role string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if p, ok := c.participants[occupant.String()]; ok {
		p.role = role
	}
}

// OnRoomDestroyed disposes the conference.
func (c *Conference) OnRoomDestroyed() {
	c.Dispose()
}

// OnSessionAnswer processes the sources a participant advertised in its
// session answer. The change is validated against conference-wide state and
// either applied as a whole or rejected with an InvalidSourcesError the
// host surfaces to the peer.
func (c *Conference) OnSessionAnswer(occupant jid.JID, contents []xmpp.Content) error {
	sources, groups := xmpp.ExtractSources(contents)
	return c.OnSourceAdd(occupant, sources, groups)
}

// OnSourceAdd validates and applies a source addition, then fans it out to
// every other participant.
func (c *Conference) OnSourceAdd(occupant jid.JID, newSources *source.MediaSourceMap, newGroups *source.MediaSourceGroupMap) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	p, ok := c.participants[occupant.String()]
	if !ok {
		return &source.InvalidSourcesError{Reason: "no session for " + occupant.String()}
	}

	stampOwner(newSources, p.occupant.String())

	allSources, allGroups := c.allSources()
	validator := source.NewValidator(
		p.occupant.String(), allSources, allGroups, c.config.MaxSourcesPerUser, p.logger)
	accepted, acceptedGroups, err := validator.TryAdd(newSources, newGroups)
	if err != nil {
		p.logger.WithError(err).Warn("rejecting source-add")
		return err
	}
	if accepted.IsEmpty() && acceptedGroups.IsEmpty() {
		return nil
	}

	p.sources.Add(accepted)
	p.groups.Add(acceptedGroups)
	c.updateColibriSources(p)
	c.updateOctoParticipants()

	c.propagate(p, accepted, acceptedGroups, true)
	return nil
}

// OnSourceRemove validates and applies a source removal, then fans out the
// effective delta.
func (c *Conference) OnSourceRemove(occupant jid.JID, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	p, ok := c.participants[occupant.String()]
	if !ok {
		return &source.InvalidSourcesError{Reason: "no session for " + occupant.String()}
	}

	// A participant may only remove what it owns.
	owned := p.sources.Copy()
	ownedGroups := p.groups.CopyDeep()
	toRemove := owned.Remove(sources)
	toRemoveGroups := ownedGroups.Remove(groups)

	allSources, allGroups := c.allSources()
	validator := source.NewValidator(
		p.occupant.String(), allSources, allGroups, c.config.MaxSourcesPerUser, p.logger)
	removed, removedGroups, err := validator.TryRemove(toRemove, toRemoveGroups)
	if err != nil {
		p.logger.WithError(err).Warn("rejecting source-remove")
		return err
	}
	if removed.IsEmpty() && removedGroups.IsEmpty() {
		return nil
	}

	p.sources.Remove(removed)
	p.groups.Remove(removedGroups)
	c.updateColibriSources(p)
	c.updateOctoParticipants()

	c.propagate(p, removed, removedGroups, false)
	return nil
}

// OnBridgeDown moves every participant off the failed bridge by giving each
// one a fresh re-inviting allocator.
func (c *Conference) OnBridgeDown(bridgeJID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disposed {
		return
	}

	var failed []*BridgeSession
	remaining := c.sessions[:0:0]
	for _, s := range c.sessions {
		if s.bridge.JID() == bridgeJID {
			failed = append(failed, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	if len(failed) == 0 {
		return
	}
	c.sessions = remaining
	c.logger.Warnf("bridge %s went down, moving its participants", bridgeJID)

	for _, s := range failed {
		s.hasFailed = true
		s.colibri.Expire()
	}

	for _, p := range c.participants {
		for _, s := range failed {
			if p.session == s {
				p.session = nil
				p.channels = nil
				c.inviteParticipant(p, true)
				break
			}
		}
	}
}

// Dispose tears the conference down: allocators are cancelled, sessions
// terminated and all colibri state expired.
func (c *Conference) Dispose() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disposed {
		return
	}
	c.disposed = true
	c.logger.Info("disposing conference")

	for _, p := range c.participants {
		if p.allocator != nil {
			p.allocator.Cancel()
		}
		if p.IsSessionEstablished() {
			target := p.occupant
			c.submit(func() {
				c.session.TerminateSession(target, "gone", "conference ended")
			})
		}
		p.state = StateGone
	}
	c.participants = make(map[string]*Participant)

	for _, s := range c.sessions {
		s.colibri.Expire()
	}
	c.sessions = nil
}

// ParticipantCount returns the number of known participants.
func (c *Conference) ParticipantCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.participants)
}

// Participant looks up a member by its occupant JID.
func (c *Conference) Participant(occupant jid.JID) *Participant {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.participants[occupant.String()]
}

// RelayIDs returns the relay ids of the bridges the conference runs on.
func (c *Conference) RelayIDs() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var relays []string
	for _, s := range c.sessions {
		if relay := s.bridge.RelayID(); relay != "" {
			relays = append(relays, relay)
		}
	}
	return relays
}

// inviteParticipant installs a fresh allocator for the participant,
// cancelling any previous attempt. Called with the conference lock held.
func (c *Conference) inviteParticipant(p *Participant, reInvite bool) {
	startMuted := [2]bool{c.config.StartAudioMuted, c.config.StartVideoMuted}
	allocator := newChannelAllocator(c, p, startMuted, reInvite)
	p.setAllocator(allocator)
	p.state = StateInviting

	if err := c.pool.Submit(allocator.Run); err != nil {
		p.logger.WithError(err).Error("could not start invitation")
		p.clearAllocator(allocator)
	}
}

// removeParticipant releases everything a participant holds. Called with
// the conference lock held.
func (c *Conference) removeParticipant(p *Participant) {
	if p.allocator != nil {
		p.allocator.Cancel()
	}
	if p.channels != nil && p.session != nil {
		channels := p.channels
		session := p.session
		c.submit(func() { session.colibri.ExpireChannels(channels) })
		if p.Supports(xmpp.FeatureVideo) {
			c.registry.OnVideoStreamsChanged(session.bridge.JID(), -1)
		}
	}

	removed := p.sources.CopyDeep()
	removedGroups := p.groups.CopyDeep()
	p.state = StateGone
	delete(c.participants, p.occupant.String())

	if !removed.IsEmpty() || !removedGroups.IsEmpty() {
		c.propagate(p, removed, removedGroups, false)
	}
	c.updateOctoParticipants()

	if len(c.participants) == 0 {
		for _, s := range c.sessions {
			s.colibri.Expire()
		}
		c.sessions = nil
	}
}

// propagate fans a source delta of one participant out to all others:
// established participants get a signalling task, the rest queue the delta
// until their session is up. Called with the conference lock held.
func (c *Conference) propagate(from *Participant, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap, add bool) {
	allSources, _ := c.allSources()

	for _, q := range c.participants {
		if q == from {
			continue
		}

		if !q.IsSessionEstablished() {
			if add {
				q.queueRemoteAdd(sources, groups)
			} else {
				q.queueRemoteRemove(sources, groups)
			}
			continue
		}

		outgoing := sources
		if add && c.config.EnableLipSync && q.SupportsLipSync() {
			outgoing = source.RewriteSourceAdd(sources, allSources)
		}
		target := q.occupant
		outgoingGroups := groups
		if add {
			c.submit(func() { c.session.SendAddSource(target, outgoing, outgoingGroups) })
		} else {
			c.submit(func() { c.session.SendRemoveSource(target, outgoing, outgoingGroups) })
		}
	}
}

// allSources returns the conference-wide union of participant sources and
// groups. Called with the conference lock held.
func (c *Conference) allSources() (*source.MediaSourceMap, *source.MediaSourceGroupMap) {
	sources := source.NewMediaSourceMap()
	groups := source.NewMediaSourceGroupMap()
	for _, p := range c.participants {
		sources.Add(p.sources)
		groups.Add(p.groups)
	}
	return sources, groups
}

// allSourcesExcept is allSources without one participant's own sources,
// used to build its offer.
func (c *Conference) allSourcesExcept(excluded *Participant) (*source.MediaSourceMap, *source.MediaSourceGroupMap) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	sources := source.NewMediaSourceMap()
	groups := source.NewMediaSourceGroupMap()
	for _, p := range c.participants {
		if p == excluded {
			continue
		}
		sources.Add(p.sources)
		groups.Add(p.groups)
	}
	return sources, groups
}

// ensureBridgeSession returns the bridge session the participant should
// allocate on, selecting a bridge when it has none.
func (c *Conference) ensureBridgeSession(p *Participant) (*BridgeSession, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if p.session != nil && !p.session.hasFailed {
		return p.session, nil
	}

	used := make([]*bridge.Bridge, 0, len(c.sessions))
	for _, s := range c.sessions {
		used = append(used, s.bridge)
	}

	b := c.selector.SelectBridge(used, p.region)
	if b == nil {
		return nil, ErrNoBridgeAvailable
	}

	for _, s := range c.sessions {
		if s.bridge == b {
			p.session = s
			return s, nil
		}
	}

	s := newBridgeSession(b, c.colibri, c.room.String())
	c.sessions = append(c.sessions, s)
	p.session = s
	return s, nil
}

// setParticipantFeatures stores the discovered features under the lock.
func (c *Conference) setParticipantFeatures(p *Participant, features []xmpp.Feature) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p.setFeatures(features)
}

// onChannelsAllocated records a successful allocation.
func (c *Conference) onChannelsAllocated(a *ChannelAllocator, channels *colibri.Channels) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	p := a.participant
	p.channels = channels
	p.session = a.session

	if !a.session.everAllocated {
		a.session.everAllocated = true
		c.logger.Infof("conference started on bridge %s", a.session.bridge.JID())
	}
	if p.Supports(xmpp.FeatureVideo) {
		c.registry.OnVideoStreamsChanged(a.session.bridge.JID(), 1)
	}
	c.updateOctoParticipants()
}

// onSessionEstablished flips the participant to established and drains the
// source deltas that queued up while the session was being negotiated. The
// add is emitted before the remove, both exactly once, even for sources
// that appear in both queues.
func (c *Conference) onSessionEstablished(p *Participant) {
	c.mutex.Lock()
	if c.disposed || p.state == StateGone {
		c.mutex.Unlock()
		return
	}
	p.state = StateEstablished
	p.logger.Info("session established")

	add, addGroups, remove, removeGroups := p.drainPending()
	allSources, _ := c.allSources()
	lipSync := c.config.EnableLipSync && p.SupportsLipSync()
	target := p.occupant
	c.mutex.Unlock()

	if !add.IsEmpty() || !addGroups.IsEmpty() {
		outgoing := add
		if lipSync {
			outgoing = source.RewriteSourceAdd(add, allSources)
		}
		c.session.SendAddSource(target, outgoing, addGroups)
	}
	if !remove.IsEmpty() || !removeGroups.IsEmpty() {
		c.session.SendRemoveSource(target, remove, removeGroups)
	}
}

// onAllocationRejected handles a bad-request reply: the bridge is healthy
// but our conference state on it is not, so the colibri state is rebuilt
// and everyone is re-invited.
func (c *Conference) onAllocationRejected(a *ChannelAllocator) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disposed {
		return
	}
	c.logger.Warn("restarting conference state")

	for _, s := range c.sessions {
		s.colibri.Expire()
	}
	c.sessions = nil

	for _, p := range c.participants {
		p.session = nil
		p.channels = nil
		c.inviteParticipant(p, p.IsSessionEstablished())
	}
}

// onBridgeSessionFailed marks the bridge non-operational and moves the
// conference off it.
func (c *Conference) onBridgeSessionFailed(s *BridgeSession) {
	c.registry.SetOperational(s.bridge.JID(), false)
	c.OnBridgeDown(s.bridge.JID())
}

// onNoBridgeAvailable lets the room know that the conference cannot be
// placed.
func (c *Conference) onNoBridgeAvailable(a *ChannelAllocator) {
	c.chatRoom.SendPresenceExtension(xmpp.BridgeDownExtension{})
}

// onInviteFailed tears the participant down unless the conference is
// already disposed. Retries are only ever triggered by bridge failures.
func (c *Conference) onInviteFailed(a *ChannelAllocator) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disposed {
		return
	}
	p := a.participant
	if _, ok := c.participants[p.occupant.String()]; !ok {
		return
	}
	p.logger.Warn("invite failed, removing participant")

	target := p.occupant
	c.submit(func() { c.session.TerminateSession(target, "connectivity-error", "invite failed") })
	c.removeParticipant(p)
}

// allocatorFinished drops the allocator reference when its run ends.
func (c *Conference) allocatorFinished(a *ChannelAllocator) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	a.participant.clearAllocator(a)
}

// updateColibriSources pushes a participant's current sources to its
// allocated channels. Called with the conference lock held.
func (c *Conference) updateColibriSources(p *Participant) {
	if p.channels == nil || p.session == nil {
		return
	}
	channels := p.channels
	session := p.session
	sources := p.sources.CopyDeep()
	groups := p.groups.CopyDeep()
	c.submit(func() {
		if err := session.colibri.UpdateChannels(channels, nil, sources, groups); err != nil {
			c.logger.WithError(err).Warn("colibri channel update failed")
		}
	})
}

// updateOctoParticipants recomputes the relay topology. With two or more
// bridges in the conference, each bridge gets a synthetic participant
// carrying the sources of every endpoint hosted on the other bridges.
// Called with the conference lock held.
func (c *Conference) updateOctoParticipants() {
	if len(c.sessions) < 2 {
		return
	}

	for _, s := range c.sessions {
		s := s

		var relays []string
		for _, other := range c.sessions {
			if other != s {
				if relay := other.bridge.RelayID(); relay != "" {
					relays = append(relays, relay)
				}
			}
		}

		remoteSources := source.NewMediaSourceMap()
		remoteGroups := source.NewMediaSourceGroupMap()
		for _, p := range c.participants {
			if p.session != nil && p.session != s {
				remoteSources.Add(p.sources)
				remoteGroups.Add(p.groups)
			}
		}

		if s.octo == nil {
			s.octo = newOctoParticipant(s)
		}
		octo := s.octo
		octo.relays = relays
		octo.sources = remoteSources
		octo.groups = remoteGroups

		contents := []xmpp.Content{
			{Name: string(source.MediaAudio), Media: source.MediaAudio, UseICE: true, UseDTLS: true},
			{Name: string(source.MediaVideo), Media: source.MediaVideo, UseICE: true, UseDTLS: true},
		}
		for i := range contents {
			media := contents[i].Media
			contents[i].Sources = remoteSources.SourcesForMedia(media)
			contents[i].Groups = remoteGroups.GroupsForMedia(media)
		}

		relayID := s.bridge.RelayID()
		c.submit(func() {
			c.allocateOctoChannels(s, octo, relayID, contents)
		})
	}
}

// allocateOctoChannels creates or updates the octo channels on one bridge.
// Runs off-lock on the pool.
func (c *Conference) allocateOctoChannels(s *BridgeSession, octo *OctoParticipant, relayID string, contents []xmpp.Content) {
	c.mutex.Lock()
	channels := octo.channels
	sources := octo.sources
	groups := octo.groups
	c.mutex.Unlock()

	if channels == nil {
		allocated, err := s.colibri.CreateChannels("octo-"+relayID, "octo", true, contents)
		if err != nil {
			c.logger.WithError(err).Errorf("octo channel allocation on %s failed", s.bridge.JID())
			return
		}
		c.mutex.Lock()
		octo.channels = allocated
		octo.established = true
		c.mutex.Unlock()
		return
	}

	if err := s.colibri.UpdateChannels(channels, contents, sources, groups); err != nil {
		c.logger.WithError(err).Errorf("octo channel update on %s failed", s.bridge.JID())
	}
}

// submit schedules work on the shared pool, falling back to a goroutine
// when the pool refuses (stopped or saturated during dispose).
func (c *Conference) submit(task func()) {
	if err := c.pool.Submit(task); err != nil {
		go task()
	}
}

func stampOwner(sources *source.MediaSourceMap, owner string) {
	if sources == nil {
		return
	}
	for _, media := range sources.MediaTypes() {
		list := sources.SourcesForMedia(media)
		for i := range list {
			if list[i].Owner == "" {
				list[i].Owner = owner
			}
		}
	}
}
