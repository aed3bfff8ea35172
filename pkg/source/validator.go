package source

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// InvalidSourcesError rejects a source change. The reason is a human-readable
// description of the violated invariant; callers surface it to the peer.
type InvalidSourcesError struct {
	Reason string
}

func (e *InvalidSourcesError) Error() string {
	return e.Reason
}

func invalidSources(format string, args ...any) error {
	return &InvalidSourcesError{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks a single source change against the conference-wide source
// state. One instance covers one change attempt: the constructor snapshots
// the current state, TryAdd/TryRemove compute the hypothetical post-state
// and run the full validation on it. On success the returned maps are the
// effective delta to apply; on failure nothing may be applied.
type Validator struct {
	logger *logrus.Entry
	// Occupant JID of the participant advertising the change. Used as the
	// owner of incoming sources that do not carry one.
	owner string
	// Per owner, per media type cap on the number of sources.
	maxSourcesPerOwner int
	// Hypothetical conference-wide post-state.
	sources *MediaSourceMap
	groups  *MediaSourceGroupMap
}

func NewValidator(
	owner string,
	conferenceSources *MediaSourceMap,
	conferenceGroups *MediaSourceGroupMap,
	maxSourcesPerOwner int,
	logger *logrus.Entry,
) *Validator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Validator{
		logger:             logger,
		owner:              owner,
		maxSourcesPerOwner: maxSourcesPerOwner,
		sources:            conferenceSources.CopyDeep(),
		groups:             conferenceGroups.CopyDeep(),
	}
}

// TryAdd validates the addition of new sources and groups. Returns the
// accepted delta: sources over the per-owner cap are dropped (not an error),
// duplicate groups are skipped, everything else either passes validation as
// a whole or the change is rejected atomically.
func (v *Validator) TryAdd(
	newSources *MediaSourceMap,
	newGroups *MediaSourceGroupMap,
) (*MediaSourceMap, *MediaSourceGroupMap, error) {
	accepted := NewMediaSourceMap()
	acceptedGroups := NewMediaSourceGroupMap()

	if newSources != nil {
		for _, media := range newSources.MediaTypes() {
			for _, incoming := range newSources.SourcesForMedia(media) {
				s := incoming.Copy()
				if !s.HasSSRC() && s.Rid == "" {
					return nil, nil, invalidSources("source has neither an ssrc nor a rid")
				}
				if s.HasSSRC() && (s.SSRC <= 0 || s.SSRC > MaxSSRC) {
					return nil, nil, invalidSources("illegal SSRC value: %d", s.SSRC)
				}
				if existingMedia, exists := v.sources.MediaTypeFor(s); exists {
					return nil, nil, invalidSources(
						"source %s already advertised for media %q", s, existingMedia)
				}
				if s.Owner == "" {
					s.Owner = v.owner
				}
				if v.countOwnedBy(media, s.Owner) >= v.maxSourcesPerOwner {
					v.logger.Warnf(
						"dropping source %s of %s: at most %d sources per %s stream allowed",
						s, s.Owner, v.maxSourcesPerOwner, media)
					continue
				}

				stripExtraParams(&s)
				v.sources.AddSource(media, s)
				accepted.AddSource(media, s)
			}
		}
	}

	if newGroups != nil {
		for _, media := range newGroups.MediaTypes() {
			for _, g := range newGroups.GroupsForMedia(media) {
				if len(g.Sources) == 0 {
					v.logger.Warnf("ignoring empty source group %s", g.Semantics)
					continue
				}
				if !v.groups.AddGroup(media, g.Copy()) {
					continue
				}
				acceptedGroups.AddGroup(media, g.Copy())
			}
		}
	}

	if err := v.validate(); err != nil {
		return nil, nil, err
	}
	return accepted, acceptedGroups, nil
}

// TryRemove validates the removal of sources and groups. Returns what was
// actually present and removed; the post-state must still satisfy all
// invariants or the change is rejected atomically.
func (v *Validator) TryRemove(
	sourcesToRemove *MediaSourceMap,
	groupsToRemove *MediaSourceGroupMap,
) (*MediaSourceMap, *MediaSourceGroupMap, error) {
	removed := v.sources.Remove(sourcesToRemove)
	removedGroups := v.groups.Remove(groupsToRemove)

	if err := v.validate(); err != nil {
		return nil, nil, err
	}
	return removed, removedGroups, nil
}

func (v *Validator) countOwnedBy(media MediaType, owner string) int {
	count := 0
	for _, s := range v.sources.SourcesForMedia(media) {
		if s.Owner == owner {
			count++
		}
	}
	return count
}

func stripExtraParams(s *Source) {
	for name := range s.Params {
		if name != ParamCName && name != ParamMSID {
			delete(s.Params, name)
		}
	}
}

// validate runs the full invariant check on the hypothetical post-state.
// The order of the checks is stable and every violation has a distinct
// message.
func (v *Validator) validate() error {
	if err := v.migrateGroupMemberAttributes(); err != nil {
		return err
	}
	if err := v.checkGroupMSIDs(); err != nil {
		return err
	}
	if err := v.checkSimulcastMSIDs(); err != nil {
		return err
	}
	if err := v.checkIndependentFidMSIDs(); err != nil {
		return err
	}
	return v.checkUngroupedMSIDs()
}

// Group members arrive as bare ssrc references; copy the attributes of the
// corresponding media-map entries into them so that groups carry the msid.
func (v *Validator) migrateGroupMemberAttributes() error {
	for _, media := range v.groups.MediaTypes() {
		list := v.groups.groups[media]
		for gi := range list {
			for si := range list[gi].Sources {
				member := &list[gi].Sources[si]
				if !member.HasSSRC() {
					continue
				}
				full := v.findBySSRC(media, member.SSRC)
				if full == nil {
					return invalidSources(
						"group %s references source %s which is not advertised",
						list[gi].Semantics, member)
				}
				member.Owner = full.Owner
				for name, value := range full.Params {
					member.SetParam(name, value)
				}
			}
		}
	}
	return nil
}

func (v *Validator) findBySSRC(media MediaType, ssrc int64) *Source {
	for _, s := range v.sources.SourcesForMedia(media) {
		if s.HasSSRC() && s.SSRC == ssrc {
			found := s
			return &found
		}
	}
	return nil
}

// Every grouped ssrc-bearing source must carry a non-empty msid and all
// members of one group must agree on it.
func (v *Validator) checkGroupMSIDs() error {
	for _, media := range v.groups.MediaTypes() {
		for _, g := range v.groups.GroupsForMedia(media) {
			groupMSID := ""
			for _, member := range g.Sources {
				if !member.HasSSRC() {
					continue
				}
				msid := member.MSID()
				if msid == "" {
					return invalidSources("grouped source %s has no MSID", member)
				}
				if groupMSID == "" {
					groupMSID = msid
				} else if msid != groupMSID {
					return invalidSources(
						"MSID mismatch in group %s: %q != %q", g, msid, groupMSID)
				}
			}
		}
	}
	return nil
}

// The msid of an ssrc-signalled simulcast grouping must not appear on any
// ssrc outside of that grouping.
func (v *Validator) checkSimulcastMSIDs() error {
	for _, media := range v.groups.MediaTypes() {
		for _, grouping := range FindSimulcastGroupings(v.groups.GroupsForMedia(media)) {
			if grouping.UsesRid() {
				continue
			}
			msid := grouping.MSID()
			if msid == "" {
				continue
			}
			for _, other := range v.sources.MediaTypes() {
				for _, s := range v.sources.SourcesForMedia(other) {
					if s.HasSSRC() && s.MSID() == msid && !grouping.ContainsSSRC(s.SSRC) {
						return invalidSources(
							"MSID %q of simulcast grouping %s is used by source %s outside of it",
							msid, grouping.Sim, s)
					}
				}
			}
		}
	}
	return nil
}

// FID groups that are not part of any simulcast grouping must have pairwise
// distinct msids.
func (v *Validator) checkIndependentFidMSIDs() error {
	for _, media := range v.groups.MediaTypes() {
		groups := v.groups.GroupsForMedia(media)
		groupings := FindSimulcastGroupings(groups)

		var independent []SourceGroup
	next:
		for _, g := range groups {
			if g.Semantics != SemanticsFid {
				continue
			}
			for _, grouping := range groupings {
				for _, fid := range grouping.Fid {
					if fid.SameAs(g) {
						continue next
					}
				}
			}
			independent = append(independent, g)
		}

		seen := make(map[string]SourceGroup)
		for _, g := range independent {
			msid := g.MSID()
			if msid == "" {
				continue
			}
			if previous, ok := seen[msid]; ok {
				return invalidSources(
					"MSID %q is used by more than one FID group: %s and %s", msid, previous, g)
			}
			seen[msid] = g
		}
	}
	return nil
}

// Ungrouped sources of one media type must have pairwise distinct msids.
func (v *Validator) checkUngroupedMSIDs() error {
	for _, media := range v.sources.MediaTypes() {
		grouped := make(map[int64]bool)
		for _, g := range v.groups.GroupsForMedia(media) {
			for _, member := range g.Sources {
				if member.HasSSRC() {
					grouped[member.SSRC] = true
				}
			}
		}

		seen := make(map[string]Source)
		for _, s := range v.sources.SourcesForMedia(media) {
			if !s.HasSSRC() || grouped[s.SSRC] {
				continue
			}
			msid := s.MSID()
			if msid == "" {
				continue
			}
			if previous, ok := seen[msid]; ok {
				return invalidSources(
					"MSID conflict: %q is used by both %s and %s", msid, previous, s)
			}
			seen[msid] = s
		}
	}
	return nil
}
