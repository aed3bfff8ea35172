package conference

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/jitsi/jicofo-go/pkg/telemetry"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoBridgeAvailable aborts an invitation when the selector cannot place
// the participant on any bridge.
var ErrNoBridgeAvailable = errors.New("no bridge available")

// AllocatorState is the phase an invitation attempt is in, exposed for
// observability and tests.
type AllocatorState int32

const (
	AllocNew AllocatorState = iota
	AllocDiscovering
	AllocOfferBuilt
	AllocAllocating
	AllocOfferSent
	AllocDone
	AllocCancelled
	AllocAborted
)

func (s AllocatorState) String() string {
	switch s {
	case AllocNew:
		return "new"
	case AllocDiscovering:
		return "discovering"
	case AllocOfferBuilt:
		return "offer-built"
	case AllocAllocating:
		return "allocating"
	case AllocOfferSent:
		return "offer-sent"
	case AllocDone:
		return "done"
	case AllocCancelled:
		return "cancelled"
	case AllocAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ChannelAllocator is one invitation attempt for one participant: feature
// discovery, bridge selection, channel allocation and the session offer.
// It runs on the shared pool and observes its cancelled flag at every
// suspension point; a cancelled attempt releases whatever it allocated and
// never reports success.
type ChannelAllocator struct {
	conference  *Conference
	participant *Participant
	session     *BridgeSession
	startMuted  [2]bool
	reInvite    bool

	cancelled atomic.Bool
	state     atomic.Int32
	logger    *logrus.Entry
}

func newChannelAllocator(c *Conference, p *Participant, startMuted [2]bool, reInvite bool) *ChannelAllocator {
	return &ChannelAllocator{
		conference:  c,
		participant: p,
		startMuted:  startMuted,
		reInvite:    reInvite,
		logger: c.logger.WithFields(logrus.Fields{
			"endpoint":  p.EndpointID(),
			"re_invite": reInvite,
		}),
	}
}

// Cancel requests the attempt to stop. It returns immediately; the running
// task unwinds at its next suspension point.
func (a *ChannelAllocator) Cancel() {
	a.cancelled.Store(true)
}

func (a *ChannelAllocator) IsCancelled() bool {
	return a.cancelled.Load()
}

func (a *ChannelAllocator) State() AllocatorState {
	return AllocatorState(a.state.Load())
}

func (a *ChannelAllocator) setState(state AllocatorState) {
	a.state.Store(int32(state))
}

// Run executes the invitation attempt. It is submitted to the shared pool
// by the conference and must not be called twice.
func (a *ChannelAllocator) Run() {
	tele := telemetry.NewTelemetry(context.Background(), "invite",
		attribute.String("endpoint", a.participant.EndpointID()),
		attribute.Bool("re_invite", a.reInvite),
	)
	defer tele.End()
	defer a.conference.allocatorFinished(a)

	if !a.discoverFeatures(tele) {
		return
	}

	contents := a.buildOffer()
	a.setState(AllocOfferBuilt)
	if len(contents) == 0 {
		a.logger.Error("no content to offer")
		a.abort(tele, errors.New("empty offer"))
		return
	}

	session, err := a.conference.ensureBridgeSession(a.participant)
	if err != nil {
		a.logger.WithError(err).Error("cannot place participant on a bridge")
		a.conference.onNoBridgeAvailable(a)
		a.conference.onInviteFailed(a)
		a.abort(tele, err)
		return
	}
	a.session = session
	tele.AddEvent("bridge selected", attribute.String("bridge", session.bridge.JID()))

	a.setState(AllocAllocating)
	channels, ok := a.allocateChannels(tele, contents)
	if !ok {
		return
	}
	if a.IsCancelled() {
		a.unwind(channels)
		return
	}

	contents = a.fillTransport(contents, channels)
	contents = a.injectConferenceSources(contents, channels)

	a.setState(AllocOfferSent)
	acked, err := a.sendOffer(contents)
	if a.IsCancelled() {
		a.unwind(channels)
		return
	}
	if err != nil || !acked {
		if err == nil {
			err = errors.New("session offer was not acknowledged")
		}
		a.logger.WithError(err).Error("session signalling failed, expiring channels")
		a.session.colibri.ExpireChannels(channels)
		a.conference.onInviteFailed(a)
		a.abort(tele, err)
		return
	}

	a.setState(AllocDone)
	a.conference.onSessionEstablished(a.participant)
}

func (a *ChannelAllocator) discoverFeatures(tele *telemetry.Telemetry) bool {
	a.setState(AllocDiscovering)
	features, err := a.conference.discovery.DiscoverFeatures(a.participant.Occupant())
	if a.IsCancelled() {
		a.setState(AllocCancelled)
		return false
	}
	if err != nil {
		a.logger.WithError(err).Error("feature discovery failed")
		a.conference.onInviteFailed(a)
		a.abort(tele, err)
		return false
	}
	a.conference.setParticipantFeatures(a.participant, features)
	return true
}

// buildOffer creates the ordered content list for the participant: audio,
// video and, when both sides allow it, an SCTP data content.
func (a *ChannelAllocator) buildOffer() []xmpp.Content {
	p := a.participant
	config := a.conference.config

	var contents []xmpp.Content
	if p.Supports(xmpp.FeatureAudio) {
		contents = append(contents, a.newContent(source.MediaAudio, config))
	}
	if p.Supports(xmpp.FeatureVideo) {
		contents = append(contents, a.newContent(source.MediaVideo, config))
	}
	if config.OpenSctp && p.Supports(xmpp.FeatureSCTP) {
		contents = append(contents, a.newContent(source.MediaData, config))
	}
	return contents
}

func (a *ChannelAllocator) newContent(media source.MediaType, config Config) xmpp.Content {
	p := a.participant
	return xmpp.Content{
		Name:         string(media),
		Media:        media,
		UseICE:       p.Supports(xmpp.FeatureICE),
		UseDTLS:      p.Supports(xmpp.FeatureDTLS),
		UseRTX:       media == source.MediaVideo && config.EnableRtx && p.Supports(xmpp.FeatureRTX),
		UseTCC:       config.EnableTcc,
		UseREMB:      config.EnableRemb,
		UseRED:       media == source.MediaAudio && config.EnableOpusRed,
		Stereo:       media == source.MediaAudio && config.Stereo,
		StartBitrate: config.StartBitrateKbps,
		MinBitrate:   config.MinBitrateKbps,
	}
}

// allocateChannels drives the colibri request on the selected bridge. On a
// bad-request reply the bridge is fine but the conference state is not, so
// the conference is restarted; on any other error the bridge is marked
// non-operational and the conference moves its participants.
func (a *ChannelAllocator) allocateChannels(tele *telemetry.Telemetry, contents []xmpp.Content) (*colibri.Channels, bool) {
	p := a.participant

	for !a.IsCancelled() && !a.session.colibri.IsDisposed() {
		channels, err := a.session.colibri.CreateChannels(p.EndpointID(), p.statsID, true, contents)
		if a.IsCancelled() {
			a.unwind(channels)
			return nil, false
		}

		if err == nil {
			a.conference.onChannelsAllocated(a, channels)
			return channels, true
		}

		var allocErr *colibri.AllocationError
		if errors.As(err, &allocErr) && allocErr.BadRequest() {
			a.logger.WithError(err).Error("bridge rejected the channel request, restarting conference")
			tele.Fail(err)
			a.setState(AllocAborted)
			a.conference.onAllocationRejected(a)
			return nil, false
		}

		a.logger.WithError(err).Errorf("channel allocation on %s failed", a.session.bridge.JID())
		tele.AddEvent("bridge failed", attribute.String("bridge", a.session.bridge.JID()))
		a.setState(AllocAborted)
		a.conference.onBridgeSessionFailed(a.session)
		return nil, false
	}

	a.setState(AllocCancelled)
	return nil, false
}

// fillTransport copies the per-content transport of the allocation reply
// into the offer.
func (a *ChannelAllocator) fillTransport(contents []xmpp.Content, channels *colibri.Channels) []xmpp.Content {
	for i := range contents {
		if transport, ok := channels.Transports[contents[i].Name]; ok {
			contents[i].Transport = transport
			contents[i].RTCPMux = transport.RTCPMux
		}
		if contents[i].Media == source.MediaData {
			contents[i].Sctp = channels.Sctp
		}
	}
	return contents
}

// injectConferenceSources adds every other participant's sources and groups
// to the offer, plus the bridge-owned sources of the allocation reply,
// rewritten for lip sync when the target supports it.
func (a *ChannelAllocator) injectConferenceSources(contents []xmpp.Content, channels *colibri.Channels) []xmpp.Content {
	sources, groups := a.conference.allSourcesExcept(a.participant)
	sources.Add(channels.Sources)

	if a.conference.config.EnableLipSync && a.participant.SupportsLipSync() {
		sources = source.MergeVideoIntoAudio(sources)
	}

	for i := range contents {
		media := contents[i].Media
		contents[i].Sources = append(contents[i].Sources, sources.SourcesForMedia(media)...)
		contents[i].Groups = append(contents[i].Groups, groups.GroupsForMedia(media)...)
	}
	return contents
}

func (a *ChannelAllocator) sendOffer(contents []xmpp.Content) (bool, error) {
	target := a.participant.Occupant()
	if a.reInvite {
		return a.conference.session.ReplaceTransport(target, contents, a.startMuted)
	}
	return a.conference.session.InitiateSession(target, contents, a.startMuted)
}

// unwind releases a cancelled attempt's channels without notifying anyone.
func (a *ChannelAllocator) unwind(channels *colibri.Channels) {
	a.setState(AllocCancelled)
	if channels != nil {
		a.session.colibri.ExpireChannels(channels)
	}
}

func (a *ChannelAllocator) abort(tele *telemetry.Telemetry, err error) {
	tele.Fail(err)
	a.setState(AllocAborted)
}
