package source

import (
	"strings"
)

// Source group semantics as carried on the wire.
const (
	SemanticsSim   = "SIM"
	SemanticsFid   = "FID"
	SemanticsFecFr = "FEC-FR"
)

// SourceGroup ties several sources together under one semantics tag, e.g.
// the simulcast layers of a video track or an RTX retransmission pair.
// Member order is significant.
type SourceGroup struct {
	Semantics string
	Sources   []Source
}

// Copy returns a deep copy of the group.
func (g SourceGroup) Copy() SourceGroup {
	copied := SourceGroup{Semantics: g.Semantics, Sources: make([]Source, len(g.Sources))}
	for i, s := range g.Sources {
		copied.Sources[i] = s.Copy()
	}
	return copied
}

// MSID returns the msid shared by the group's members, i.e. the msid of the
// first member that carries one. Group validity (all members agreeing on the
// msid) is enforced by the validator, not here.
func (g SourceGroup) MSID() string {
	for _, s := range g.Sources {
		if msid := s.MSID(); msid != "" {
			return msid
		}
	}
	return ""
}

// ContainsSSRC reports whether any member carries the given ssrc.
func (g SourceGroup) ContainsSSRC(ssrc int64) bool {
	for _, s := range g.Sources {
		if s.HasSSRC() && s.SSRC == ssrc {
			return true
		}
	}
	return false
}

// SameAs reports whether two groups carry the same semantics over the same
// member set.
func (g SourceGroup) SameAs(other SourceGroup) bool {
	if g.Semantics != other.Semantics || len(g.Sources) != len(other.Sources) {
		return false
	}
	for i := range g.Sources {
		if !g.Sources[i].SameAs(other.Sources[i]) {
			return false
		}
	}
	return true
}

func (g SourceGroup) String() string {
	members := make([]string, len(g.Sources))
	for i, s := range g.Sources {
		members[i] = s.String()
	}
	return g.Semantics + "[" + strings.Join(members, " ") + "]"
}

// SimulcastGrouping is the computed view of one SIM group together with the
// per-layer FID groups whose first ssrc is a SIM member.
type SimulcastGrouping struct {
	Sim SourceGroup
	Fid []SourceGroup
}

// UsesRid reports whether the grouping is signalled via rid rather than ssrc.
func (g SimulcastGrouping) UsesRid() bool {
	for _, s := range g.Sim.Sources {
		if s.HasSSRC() {
			return false
		}
	}
	return len(g.Sim.Sources) > 0
}

// MSID of the grouping, taken from the SIM group.
func (g SimulcastGrouping) MSID() string {
	return g.Sim.MSID()
}

// ContainsSSRC reports whether the ssrc belongs to the grouping, either as a
// simulcast layer or as a member of one of the per-layer FID groups.
func (g SimulcastGrouping) ContainsSSRC(ssrc int64) bool {
	if g.Sim.ContainsSSRC(ssrc) {
		return true
	}
	for _, fid := range g.Fid {
		if fid.ContainsSSRC(ssrc) {
			return true
		}
	}
	return false
}

// FindSimulcastGroupings combines each SIM group in the list with the FID
// groups that belong to it. A FID group belongs to a SIM group when its
// first ssrc is one of the SIM members.
func FindSimulcastGroupings(groups []SourceGroup) []SimulcastGrouping {
	var groupings []SimulcastGrouping
	for _, group := range groups {
		if group.Semantics != SemanticsSim {
			continue
		}

		grouping := SimulcastGrouping{Sim: group}
		for _, fid := range groups {
			if fid.Semantics != SemanticsFid || len(fid.Sources) == 0 {
				continue
			}
			if first := fid.Sources[0]; first.HasSSRC() && group.ContainsSSRC(first.SSRC) {
				grouping.Fid = append(grouping.Fid, fid)
			}
		}
		groupings = append(groupings, grouping)
	}
	return groupings
}
