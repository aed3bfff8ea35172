package bridge

import (
	"sync"
	"time"

	"github.com/jitsi/jicofo-go/pkg/xmpp"
)

// Bridge is one videobridge known to the registry. All fields are guarded
// by the bridge's own mutex; the registry lock only guards the fleet map.
type Bridge struct {
	jidStr  string
	version string
	// Position in discovery order, used as the ordering tie breaker.
	discoveryOrder int

	resetThreshold time.Duration
	now            func() time.Time

	mutex          sync.Mutex
	operational    bool
	failureInstant time.Time
	stats          xmpp.BridgeStats
	statsInstant   time.Time
	// Estimator for video streams added or removed since the last stats
	// report. Replaced stats reset it to zero unconditionally, even when
	// the reported count is unchanged.
	videoStreamCountDiff int
	healthCheckSupported bool
}

func newBridge(jidStr, version string, order int, resetThreshold time.Duration, now func() time.Time) *Bridge {
	return &Bridge{
		jidStr:         jidStr,
		version:        version,
		discoveryOrder: order,
		resetThreshold: resetThreshold,
		now:            now,
		operational:    true,
	}
}

func (b *Bridge) JID() string {
	return b.jidStr
}

func (b *Bridge) Version() string {
	return b.version
}

// IsOperational reports whether the bridge may be selected. A bridge that
// failed becomes operational again once the failure-reset threshold has
// elapsed, without any stats arriving.
func (b *Bridge) IsOperational() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.operational && b.now().Sub(b.failureInstant) >= b.resetThreshold {
		b.operational = true
	}
	return b.operational
}

// SetOperational flips the operational flag. Going non-operational starts a
// fresh failure-reset window.
func (b *Bridge) SetOperational(operational bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !operational {
		b.failureInstant = b.now()
	}
	b.operational = operational
}

// SetStats replaces the stats snapshot. The video stream diff accumulated
// since the previous snapshot is discarded and the operational flag follows
// the shutdown-in-progress bit.
func (b *Bridge) SetStats(stats xmpp.BridgeStats) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats = stats
	b.statsInstant = b.now()
	b.videoStreamCountDiff = 0

	operational := !stats.ShutdownInProgress
	if !operational && b.operational {
		b.failureInstant = b.now()
	}
	b.operational = operational
}

// AddVideoStreams accumulates a stream-count change observed between stats
// reports.
func (b *Bridge) AddVideoStreams(delta int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.videoStreamCountDiff += delta
}

// EstimatedVideoStreamCount is the load used for ordering: the last
// reported count corrected by the local diff.
func (b *Bridge) EstimatedVideoStreamCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats.VideoStreamCount + b.videoStreamCountDiff
}

func (b *Bridge) Region() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats.Region
}

func (b *Bridge) RelayID() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats.RelayID
}

// SupportsHealthChecks reports whether the bridge advertised the
// health-check capability in its disco features.
func (b *Bridge) SupportsHealthChecks() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.healthCheckSupported
}

func (b *Bridge) setHealthCheckSupport(supported bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.healthCheckSupported = supported
}

// expireStats drops the stats snapshot when it is older than maxAge, so
// that a bridge that stopped reporting does not keep its stale region and
// load forever.
func (b *Bridge) expireStats(maxAge time.Duration) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.statsInstant.IsZero() || b.now().Sub(b.statsInstant) <= maxAge {
		return false
	}
	b.stats = xmpp.BridgeStats{}
	b.statsInstant = time.Time{}
	b.videoStreamCountDiff = 0
	return true
}

// Less is the fleet ordering: operational bridges first, then ascending
// estimated load, ties broken by discovery order. It is a pure comparison
// consumed by a sort routine.
func Less(a, b *Bridge) bool {
	aOperational, bOperational := a.IsOperational(), b.IsOperational()
	if aOperational != bOperational {
		return aOperational
	}
	aLoad, bLoad := a.EstimatedVideoStreamCount(), b.EstimatedVideoStreamCount()
	if aLoad != bLoad {
		return aLoad < bLoad
	}
	return a.discoveryOrder < b.discoveryOrder
}
