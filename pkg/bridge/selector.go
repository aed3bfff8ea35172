package bridge

import (
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Names of the selection strategies accepted in configuration.
const (
	StrategySingle      = "single"
	StrategySplit       = "split"
	StrategyRegionBased = "region-based"
)

// Strategy picks a bridge for a (conference, participant) pair. The
// operational list arrives pre-sorted by the registry ordering; the
// conference list holds the bridges the conference already uses, in the
// order they were added.
type Strategy interface {
	SelectBridge(operational, conferenceBridges []*Bridge, participantRegion string) *Bridge
}

// NewStrategy resolves a strategy by its configured name. An unknown name
// falls back to the single-bridge strategy.
func NewStrategy(name string) Strategy {
	switch name {
	case StrategySingle, "":
		return &SingleBridgeStrategy{}
	case StrategySplit:
		return &SplitBridgeStrategy{}
	case StrategyRegionBased:
		return &RegionBasedStrategy{}
	default:
		logrus.Errorf("unknown bridge selection strategy %q, falling back to %s", name, StrategySingle)
		return &SingleBridgeStrategy{}
	}
}

// SingleBridgeStrategy keeps the whole conference on one bridge. Once the
// conference has a bridge it is always returned; when that bridge stops
// being operational the conference cannot be placed and must restart.
type SingleBridgeStrategy struct{}

func (s *SingleBridgeStrategy) SelectBridge(operational, conferenceBridges []*Bridge, participantRegion string) *Bridge {
	if len(conferenceBridges) == 0 {
		// The initial pick follows discovery order, not load.
		var first *Bridge
		for _, b := range operational {
			if first == nil || b.discoveryOrder < first.discoveryOrder {
				first = b
			}
		}
		return first
	}

	if len(conferenceBridges) > 1 {
		logrus.Errorf("single-bridge conference uses %d bridges", len(conferenceBridges))
	}
	b := conferenceBridges[0]
	if !b.IsOperational() {
		return nil
	}
	return b
}

// SplitBridgeStrategy spreads participants over as many bridges as
// possible. Only useful for testing the multi-bridge machinery.
type SplitBridgeStrategy struct{}

func (s *SplitBridgeStrategy) SelectBridge(operational, conferenceBridges []*Bridge, participantRegion string) *Bridge {
	used := make(map[string]bool, len(conferenceBridges))
	for _, b := range conferenceBridges {
		used[b.JID()] = true
	}
	for _, b := range operational {
		if !used[b.JID()] {
			return b
		}
	}
	if len(conferenceBridges) == 0 {
		return nil
	}
	return conferenceBridges[rand.Intn(len(conferenceBridges))]
}

// RegionBasedStrategy places each participant on a bridge in its own region
// when possible, growing the conference onto additional bridges when the
// existing ones advertise a relay id.
type RegionBasedStrategy struct{}

func (s *RegionBasedStrategy) SelectBridge(operational, conferenceBridges []*Bridge, participantRegion string) *Bridge {
	if len(conferenceBridges) == 0 {
		if b := firstInRegion(operational, participantRegion); b != nil {
			return b
		}
		if len(operational) == 0 {
			return nil
		}
		return operational[0]
	}

	// Without relay ids the bridges cannot be meshed, so the conference is
	// pinned to its first bridge regardless of regions.
	for _, b := range conferenceBridges {
		if b.RelayID() == "" {
			return conferenceBridges[0]
		}
	}

	usedOperational := make([]*Bridge, 0, len(conferenceBridges))
	for _, b := range conferenceBridges {
		if b.IsOperational() {
			usedOperational = append(usedOperational, b)
		}
	}

	if b := firstInRegion(usedOperational, participantRegion); b != nil {
		return b
	}

	// Grow the conference with a fresh bridge in the participant's region.
	used := make(map[string]bool, len(conferenceBridges))
	for _, b := range conferenceBridges {
		used[b.JID()] = true
	}
	for _, b := range operational {
		if !used[b.JID()] && b.Region() != "" && b.Region() == participantRegion {
			return b
		}
	}

	// Fall back to the least loaded of the bridges already in use. The
	// operational list is sorted by load, so the first match wins.
	for _, b := range operational {
		if used[b.JID()] {
			return b
		}
	}
	if len(usedOperational) > 0 {
		return usedOperational[0]
	}
	return nil
}

func firstInRegion(bridges []*Bridge, region string) *Bridge {
	if region == "" {
		return nil
	}
	for _, b := range bridges {
		if b.Region() == region {
			return b
		}
	}
	return nil
}

// Selector binds a strategy to the registry.
type Selector struct {
	registry *Registry
	strategy Strategy
}

func NewSelector(registry *Registry, strategyName string) *Selector {
	return &Selector{registry: registry, strategy: NewStrategy(strategyName)}
}

// SelectBridge picks a bridge for a participant of a conference that
// already uses the given bridges.
func (s *Selector) SelectBridge(conferenceBridges []*Bridge, participantRegion string) *Bridge {
	return s.strategy.SelectBridge(s.registry.ListOperational(), conferenceBridges, participantRegion)
}
