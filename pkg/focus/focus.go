package focus

import (
	"sync"
	"time"

	"github.com/jitsi/jicofo-go/pkg/bridge"
	"github.com/jitsi/jicofo-go/pkg/colibri"
	"github.com/jitsi/jicofo-go/pkg/common"
	"github.com/jitsi/jicofo-go/pkg/conference"
	"github.com/jitsi/jicofo-go/pkg/config"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
)

// Adapters bundles the host-provided implementations of the external
// interfaces the focus consumes.
type Adapters struct {
	Session   xmpp.SessionAPI
	Discovery xmpp.FeatureDiscovery
	Colibri   colibri.Factory
	Bridges   xmpp.BridgeDiscovery
	Health    xmpp.HealthAPI
	// ChatRooms resolves the outbound side of a conference room.
	ChatRooms func(room jid.JID) xmpp.ChatRoom
}

// Focus is the composition root: it owns the process-wide bridge registry,
// selector, health checker and worker pool, and the index of running
// conferences. It routes bridge events to the conferences and chat-room
// events into the right conference.
type Focus struct {
	logger   *logrus.Entry
	config   *config.Config
	adapters Adapters

	pool     *common.Pool
	bus      *bridge.EventBus
	registry *bridge.Registry
	selector *bridge.Selector
	health   *bridge.HealthChecker

	mutex       sync.Mutex
	conferences map[string]*conference.Conference

	unsubscribe func()
	stopTimers  chan struct{}
}

func New(cfg *config.Config, adapters Adapters) *Focus {
	bus := bridge.NewEventBus()
	registry := bridge.NewRegistry(
		bus,
		cfg.Bridge.FailureResetThreshold(),
		cfg.Bridge.MaxStatsReportAge(),
	)

	return &Focus{
		logger:   logrus.WithField("component", "focus"),
		config:   cfg,
		adapters: adapters,

		pool:     common.StartPool(cfg.WorkerPoolSize),
		bus:      bus,
		registry: registry,
		selector: bridge.NewSelector(registry, cfg.Bridge.SelectionStrategy),
		health: bridge.NewHealthChecker(
			registry,
			bus,
			adapters.Health,
			adapters.Discovery,
			cfg.Bridge.HealthCheckInterval(),
			cfg.Bridge.HealthCheckRetryDelay(),
		),

		conferences: make(map[string]*conference.Conference),
		stopTimers:  make(chan struct{}),
	}
}

// Registry exposes the bridge fleet, e.g. for a status surface.
func (f *Focus) Registry() *bridge.Registry {
	return f.registry
}

// Start wires the focus up: the registry and health checker subscribe to
// the bus, discovery updates start flowing into the registry and bridge
// failures start reaching the conferences.
func (f *Focus) Start() {
	f.registry.Start()
	f.health.Start()
	f.adapters.Bridges.SubscribeBridgeUpdates(f.registry)

	events, unsubscribe := f.bus.Subscribe()
	f.unsubscribe = unsubscribe
	go func() {
		for event := range events {
			switch event.Type {
			case bridge.EventBridgeDown, bridge.EventHealthCheckFailed:
				f.routeBridgeDown(event.Bridge)
			}
		}
	}()

	if interval := f.config.Bridge.RediscoveryInterval(); interval > 0 {
		go f.runRediscovery(interval)
	}

	f.logger.Info("focus started")
}

// Stop shuts everything down: conferences first, then the fleet machinery
// and the pool.
func (f *Focus) Stop() {
	close(f.stopTimers)
	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}

	f.mutex.Lock()
	conferences := make([]*conference.Conference, 0, len(f.conferences))
	for _, c := range f.conferences {
		conferences = append(conferences, c)
	}
	f.conferences = make(map[string]*conference.Conference)
	f.mutex.Unlock()

	for _, c := range conferences {
		c.Dispose()
	}

	f.health.Stop()
	f.registry.Stop()
	f.pool.Stop()
	f.logger.Info("focus stopped")
}

// ConferenceFor returns the conference of the given room, creating it on
// first use. The returned conference implements the chat-room listener the
// host feeds membership events into.
func (f *Focus) ConferenceFor(room jid.JID) *conference.Conference {
	key := room.Bare().String()

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if c, ok := f.conferences[key]; ok {
		return c
	}

	f.logger.Infof("creating conference %s", key)
	c := conference.New(room.Bare(), f.config.Conference, conference.Services{
		Registry:  f.registry,
		Selector:  f.selector,
		Session:   f.adapters.Session,
		Discovery: f.adapters.Discovery,
		Colibri:   f.adapters.Colibri,
		ChatRoom:  f.adapters.ChatRooms(room.Bare()),
		Pool:      f.pool,
	})
	f.conferences[key] = c
	return c
}

// ConferenceEnded removes a disposed conference from the index.
func (f *Focus) ConferenceEnded(room jid.JID) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.conferences, room.Bare().String())
}

func (f *Focus) routeBridgeDown(bridgeJID string) {
	f.mutex.Lock()
	conferences := make([]*conference.Conference, 0, len(f.conferences))
	for _, c := range f.conferences {
		conferences = append(conferences, c)
	}
	f.mutex.Unlock()

	for _, c := range conferences {
		c.OnBridgeDown(bridgeJID)
	}
}

// runRediscovery periodically re-queries the full bridge list to recover
// from missed discovery events.
func (f *Focus) runRediscovery(interval time.Duration) {
	rediscoverer, ok := f.adapters.Bridges.(xmpp.Rediscoverer)
	if !ok {
		f.logger.Warn("discovery adapter does not support re-discovery")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopTimers:
			return
		case <-ticker.C:
			rediscoverer.Rediscover()
		}
	}
}
