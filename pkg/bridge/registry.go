package bridge

import (
	"sync"
	"time"

	"github.com/jitsi/jicofo-go/pkg/common"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"mellium.im/xmpp/jid"
)

// Registry settings with their defaults.
const (
	DefaultFailureResetThreshold = 5 * time.Minute
	DefaultMaxStatsAge           = 15 * time.Second
)

// Registry tracks the fleet of bridges known to the focus. It implements
// the discovery listener, publishes fleet events on the bus and marks
// bridges non-operational when their health fails.
type Registry struct {
	logger *logrus.Entry
	bus    *EventBus
	now    func() time.Time

	failureResetThreshold time.Duration
	maxStatsAge           time.Duration

	mutex     sync.Mutex
	bridges   map[string]*Bridge
	nextOrder int

	stopExpiry  *common.Sender[struct{}]
	unsubscribe func()
}

var _ xmpp.BridgeListener = (*Registry)(nil)

func NewRegistry(bus *EventBus, failureResetThreshold, maxStatsAge time.Duration) *Registry {
	if failureResetThreshold <= 0 {
		failureResetThreshold = DefaultFailureResetThreshold
	}
	if maxStatsAge <= 0 {
		maxStatsAge = DefaultMaxStatsAge
	}
	return &Registry{
		logger:                logrus.WithField("component", "bridge-registry"),
		bus:                   bus,
		now:                   time.Now,
		failureResetThreshold: failureResetThreshold,
		maxStatsAge:           maxStatsAge,
		bridges:               make(map[string]*Bridge),
	}
}

// Start launches the stats-expiry sweep and subscribes the registry to
// health events. Stop undoes both.
func (r *Registry) Start() {
	events, unsubscribe := r.bus.Subscribe()
	r.unsubscribe = unsubscribe
	go func() {
		for event := range events {
			if event.Type == EventHealthCheckFailed {
				r.logger.Warnf("health check failed for %s, marking non-operational", event.Bridge)
				r.SetOperational(event.Bridge, false)
			}
		}
	}()

	stopSender, stopReceiver := common.NewChannel[struct{}](1)
	r.stopExpiry = &stopSender
	go func() {
		ticker := time.NewTicker(r.maxStatsAge)
		defer ticker.Stop()
		for {
			select {
			case <-stopReceiver.Channel:
				return
			case <-ticker.C:
				r.expireStats()
			}
		}
	}()
}

func (r *Registry) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if r.stopExpiry != nil {
		r.stopExpiry.Send(struct{}{})
		r.stopExpiry = nil
	}
}

// AddBridge registers a bridge, or returns the existing entry. Publishes a
// bridge-up event for new bridges.
func (r *Registry) AddBridge(bridgeJID jid.JID, version string) *Bridge {
	key := bridgeJID.String()

	r.mutex.Lock()
	if existing, ok := r.bridges[key]; ok {
		r.mutex.Unlock()
		return existing
	}
	b := newBridge(key, version, r.nextOrder, r.failureResetThreshold, r.now)
	r.nextOrder++
	r.bridges[key] = b
	r.mutex.Unlock()

	r.logger.Infof("added bridge %s (version %q)", key, version)
	r.bus.Publish(Event{Type: EventBridgeUp, Bridge: key, Version: version})
	return b
}

// RemoveBridge drops a bridge from the registry and publishes a bridge-down
// event.
func (r *Registry) RemoveBridge(bridgeJID jid.JID) {
	key := bridgeJID.String()

	r.mutex.Lock()
	_, known := r.bridges[key]
	delete(r.bridges, key)
	r.mutex.Unlock()

	if known {
		r.logger.Infof("removed bridge %s", key)
		r.bus.Publish(Event{Type: EventBridgeDown, Bridge: key})
	}
}

// Get returns the bridge with the given JID string, or nil.
func (r *Registry) Get(bridgeJID string) *Bridge {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.bridges[bridgeJID]
}

// KnownCount returns the number of registered bridges, operational or not.
func (r *Registry) KnownCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.bridges)
}

// ListOperational returns a snapshot of the operational bridges in
// selection order: ascending estimated load, discovery order as the tie
// breaker.
func (r *Registry) ListOperational() []*Bridge {
	r.mutex.Lock()
	all := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		all = append(all, b)
	}
	r.mutex.Unlock()

	slices.SortStableFunc(all, Less)

	operational := all[:0:0]
	for _, b := range all {
		if b.IsOperational() {
			operational = append(operational, b)
		}
	}
	return operational
}

// SetStats replaces a bridge's stats snapshot.
func (r *Registry) SetStats(bridgeJID string, stats xmpp.BridgeStats) {
	if b := r.Get(bridgeJID); b != nil {
		b.SetStats(stats)
	}
}

// OnVideoStreamsChanged adjusts a bridge's stream-count estimator between
// stats reports and publishes the change on the bus.
func (r *Registry) OnVideoStreamsChanged(bridgeJID string, delta int) {
	b := r.Get(bridgeJID)
	if b == nil || delta == 0 {
		return
	}
	b.AddVideoStreams(delta)
	r.bus.Publish(Event{Type: EventVideostreamsChanged, Bridge: bridgeJID, Delta: delta})
}

// SetOperational flips a bridge's operational flag.
func (r *Registry) SetOperational(bridgeJID string, operational bool) {
	if b := r.Get(bridgeJID); b != nil {
		b.SetOperational(operational)
	}
}

func (r *Registry) expireStats() {
	r.mutex.Lock()
	all := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		all = append(all, b)
	}
	r.mutex.Unlock()

	for _, b := range all {
		if b.expireStats(r.maxStatsAge) {
			r.logger.Warnf("no stats from %s for more than %s, discarding", b.JID(), r.maxStatsAge)
		}
	}
}

// BridgeUp implements the discovery listener.
func (r *Registry) BridgeUp(bridgeJID jid.JID, version string) {
	r.AddBridge(bridgeJID, version)
}

// BridgeDown implements the discovery listener.
func (r *Registry) BridgeDown(bridgeJID jid.JID) {
	r.RemoveBridge(bridgeJID)
}

// BridgeStats implements the discovery listener.
func (r *Registry) BridgeStats(bridgeJID jid.JID, stats xmpp.BridgeStats) {
	r.SetStats(bridgeJID.String(), stats)
}
