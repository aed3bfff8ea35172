package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/jitsi/jicofo-go/pkg/xmpp"
	"github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
)

// Health check timing defaults.
const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// HealthChecker probes every registered bridge periodically. A probe that
// times out gets one more chance after the retry delay; a second timeout or
// a fatal error reply publishes a health-check-failed event which the
// registry turns into a non-operational bridge.
type HealthChecker struct {
	logger    *logrus.Entry
	registry  *Registry
	bus       *EventBus
	health    xmpp.HealthAPI
	discovery xmpp.FeatureDiscovery

	interval   time.Duration
	retryDelay time.Duration
	timeout    time.Duration

	mutex       sync.Mutex
	tasks       map[string]chan struct{}
	unsubscribe func()
}

func NewHealthChecker(
	registry *Registry,
	bus *EventBus,
	health xmpp.HealthAPI,
	discovery xmpp.FeatureDiscovery,
	interval, retryDelay time.Duration,
) *HealthChecker {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	if retryDelay <= 0 {
		retryDelay = interval / 2
	}
	return &HealthChecker{
		logger:     logrus.WithField("component", "health-checker"),
		registry:   registry,
		bus:        bus,
		health:     health,
		discovery:  discovery,
		interval:   interval,
		retryDelay: retryDelay,
		timeout:    DefaultHealthCheckTimeout,
		tasks:      make(map[string]chan struct{}),
	}
}

// Start subscribes to fleet events and begins probing. Bridges already in
// the registry when Start is called get their tasks immediately.
func (h *HealthChecker) Start() {
	events, unsubscribe := h.bus.Subscribe()
	h.unsubscribe = unsubscribe

	h.registry.mutex.Lock()
	known := make([]string, 0, len(h.registry.bridges))
	for key := range h.registry.bridges {
		known = append(known, key)
	}
	h.registry.mutex.Unlock()
	for _, key := range known {
		h.addTask(key)
	}

	go func() {
		for event := range events {
			switch event.Type {
			case EventBridgeUp:
				h.addTask(event.Bridge)
			case EventBridgeDown:
				h.removeTask(event.Bridge)
			}
		}
	}()
}

// Stop cancels all probe tasks and deregisters from the bus. A restarted
// checker must not leak tasks from the previous run.
func (h *HealthChecker) Stop() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for key, stop := range h.tasks {
		close(stop)
		delete(h.tasks, key)
	}
}

func (h *HealthChecker) addTask(bridgeJID string) {
	h.mutex.Lock()
	if _, exists := h.tasks[bridgeJID]; exists {
		h.mutex.Unlock()
		return
	}
	stop := make(chan struct{})
	h.tasks[bridgeJID] = stop
	h.mutex.Unlock()

	go h.run(bridgeJID, stop)
}

func (h *HealthChecker) removeTask(bridgeJID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stop, exists := h.tasks[bridgeJID]; exists {
		close(stop)
		delete(h.tasks, bridgeJID)
	}
}

// run is the per-bridge probe loop. The next probe is scheduled only after
// the previous one has fully finished, so a slow probe with its retry never
// overlaps the next fire.
func (h *HealthChecker) run(bridgeJID string, stop chan struct{}) {
	h.discoverHealthSupport(bridgeJID)

	for {
		select {
		case <-stop:
			return
		case <-time.After(h.interval):
		}

		b := h.registry.Get(bridgeJID)
		if b == nil {
			return
		}
		if !b.SupportsHealthChecks() {
			continue
		}
		h.probe(b, stop)
	}
}

// discoverHealthSupport resolves whether the bridge advertises the
// health-check capability. On discovery failure the bridge is not probed.
func (h *HealthChecker) discoverHealthSupport(bridgeJID string) {
	b := h.registry.Get(bridgeJID)
	if b == nil {
		return
	}

	address, err := jid.Parse(bridgeJID)
	if err != nil {
		h.logger.WithError(err).Errorf("invalid bridge JID %q", bridgeJID)
		return
	}

	features, err := h.discovery.DiscoverFeatures(address)
	if err != nil {
		h.logger.WithError(err).Warnf("feature discovery for %s failed, not probing", bridgeJID)
		return
	}
	b.setHealthCheckSupport(xmpp.Contains(features, xmpp.FeatureHealth))
}

func (h *HealthChecker) probe(b *Bridge, stop chan struct{}) {
	address, err := jid.Parse(b.JID())
	if err != nil {
		h.logger.WithError(err).Errorf("invalid bridge JID %q", b.JID())
		return
	}

	err = h.health.CheckHealth(address, h.timeout)
	if err == nil {
		return
	}

	if errors.Is(err, xmpp.ErrHealthTimeout) {
		// No reply; give the bridge a second chance after the retry delay.
		select {
		case <-stop:
			return
		case <-time.After(h.retryDelay):
		}

		err = h.health.CheckHealth(address, h.timeout)
		if err == nil {
			return
		}
		if errors.Is(err, xmpp.ErrHealthTimeout) {
			h.fail(b, err)
			return
		}
	}

	var healthErr *xmpp.HealthError
	if errors.As(err, &healthErr) {
		if healthErr.Fatal() {
			h.fail(b, err)
		} else {
			h.logger.WithError(err).Warnf("non-fatal health error from %s", b.JID())
		}
		return
	}

	h.logger.WithError(err).Warnf("health check of %s failed to execute", b.JID())
}

func (h *HealthChecker) fail(b *Bridge, err error) {
	h.logger.WithError(err).Errorf("%s failed its health check", b.JID())
	h.bus.Publish(Event{Type: EventHealthCheckFailed, Bridge: b.JID()})
}
