package source

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MediaSourceMap keeps an ordered list of sources per media type. Insertion
// order within a media type is preserved so that offers built from the map
// are reproducible.
type MediaSourceMap struct {
	sources map[MediaType][]Source
}

func NewMediaSourceMap() *MediaSourceMap {
	return &MediaSourceMap{sources: make(map[MediaType][]Source)}
}

// AddSource appends a source to the given media type unless a source with
// the same identity is already present in that list. Reports whether the
// source was added.
func (m *MediaSourceMap) AddSource(media MediaType, s Source) bool {
	for _, existing := range m.sources[media] {
		if existing.SameAs(s) {
			return false
		}
	}
	m.sources[media] = append(m.sources[media], s)
	return true
}

// Add merges all sources of another map into this one, media type by media
// type, skipping duplicates.
func (m *MediaSourceMap) Add(other *MediaSourceMap) {
	if other == nil {
		return
	}
	for _, media := range other.MediaTypes() {
		for _, s := range other.sources[media] {
			m.AddSource(media, s)
		}
	}
}

// Remove deletes the given sources and returns the map of sources that were
// actually present and removed, so that callers can signal only the
// effective delta.
func (m *MediaSourceMap) Remove(other *MediaSourceMap) *MediaSourceMap {
	removed := NewMediaSourceMap()
	if other == nil {
		return removed
	}
	for _, media := range other.MediaTypes() {
		for _, victim := range other.sources[media] {
			list := m.sources[media]
			for i, existing := range list {
				if existing.SameAs(victim) {
					removed.AddSource(media, existing)
					m.sources[media] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		}
		if len(m.sources[media]) == 0 {
			delete(m.sources, media)
		}
	}
	return removed
}

// SourcesForMedia returns the sources of the given media type. The returned
// slice is a read-only view; callers that intend to mutate must copy.
func (m *MediaSourceMap) SourcesForMedia(media MediaType) []Source {
	return m.sources[media]
}

// FindSourcesWithMSID returns all sources of the media type carrying the
// given msid.
func (m *MediaSourceMap) FindSourcesWithMSID(media MediaType, msid string) []Source {
	var found []Source
	for _, s := range m.sources[media] {
		if s.MSID() == msid {
			found = append(found, s)
		}
	}
	return found
}

// FindSSRCForOwner returns the first ssrc-bearing source of the media type
// owned by the given owner, or nil.
func (m *MediaSourceMap) FindSSRCForOwner(media MediaType, owner string) *Source {
	for _, s := range m.sources[media] {
		if s.Owner == owner && s.HasSSRC() {
			found := s
			return &found
		}
	}
	return nil
}

// MediaTypeFor returns the media type under which a source with the same
// identity is stored.
func (m *MediaSourceMap) MediaTypeFor(s Source) (MediaType, bool) {
	for _, media := range m.MediaTypes() {
		for _, existing := range m.sources[media] {
			if existing.SameAs(s) {
				return media, true
			}
		}
	}
	return "", false
}

// MediaTypes returns the media types present in the map in stable order.
func (m *MediaSourceMap) MediaTypes() []MediaType {
	types := maps.Keys(m.sources)
	slices.Sort(types)
	return types
}

// CopyDeep returns a fully independent clone of the map.
func (m *MediaSourceMap) CopyDeep() *MediaSourceMap {
	copied := NewMediaSourceMap()
	for media, list := range m.sources {
		cloned := make([]Source, len(list))
		for i, s := range list {
			cloned[i] = s.Copy()
		}
		copied.sources[media] = cloned
	}
	return copied
}

// Copy returns a clone that shares the individual sources but not the
// per-media lists, so that list-level mutation of the copy does not affect
// the original.
func (m *MediaSourceMap) Copy() *MediaSourceMap {
	copied := NewMediaSourceMap()
	for media, list := range m.sources {
		copied.sources[media] = slices.Clone(list)
	}
	return copied
}

func (m *MediaSourceMap) IsEmpty() bool {
	for _, list := range m.sources {
		if len(list) > 0 {
			return false
		}
	}
	return true
}

// Size returns the total number of sources across all media types.
func (m *MediaSourceMap) Size() int {
	total := 0
	for _, list := range m.sources {
		total += len(list)
	}
	return total
}

// MediaSourceGroupMap keeps an ordered list of source groups per media type.
type MediaSourceGroupMap struct {
	groups map[MediaType][]SourceGroup
}

func NewMediaSourceGroupMap() *MediaSourceGroupMap {
	return &MediaSourceGroupMap{groups: make(map[MediaType][]SourceGroup)}
}

// AddGroup appends a group to the given media type unless an equal group is
// already present. Reports whether the group was added.
func (m *MediaSourceGroupMap) AddGroup(media MediaType, g SourceGroup) bool {
	for _, existing := range m.groups[media] {
		if existing.SameAs(g) {
			return false
		}
	}
	m.groups[media] = append(m.groups[media], g)
	return true
}

// Add merges all groups of another map into this one, skipping duplicates.
func (m *MediaSourceGroupMap) Add(other *MediaSourceGroupMap) {
	if other == nil {
		return
	}
	for _, media := range other.MediaTypes() {
		for _, g := range other.groups[media] {
			m.AddGroup(media, g)
		}
	}
}

// Remove deletes the given groups and returns what was actually removed.
func (m *MediaSourceGroupMap) Remove(other *MediaSourceGroupMap) *MediaSourceGroupMap {
	removed := NewMediaSourceGroupMap()
	if other == nil {
		return removed
	}
	for _, media := range other.MediaTypes() {
		for _, victim := range other.groups[media] {
			list := m.groups[media]
			for i, existing := range list {
				if existing.SameAs(victim) {
					removed.AddGroup(media, existing)
					m.groups[media] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		}
		if len(m.groups[media]) == 0 {
			delete(m.groups, media)
		}
	}
	return removed
}

// GroupsForMedia returns the groups of the given media type as a read-only
// view.
func (m *MediaSourceGroupMap) GroupsForMedia(media MediaType) []SourceGroup {
	return m.groups[media]
}

// MediaTypes returns the media types present in the map in stable order.
func (m *MediaSourceGroupMap) MediaTypes() []MediaType {
	types := maps.Keys(m.groups)
	slices.Sort(types)
	return types
}

// CopyDeep returns a fully independent clone of the map.
func (m *MediaSourceGroupMap) CopyDeep() *MediaSourceGroupMap {
	copied := NewMediaSourceGroupMap()
	for media, list := range m.groups {
		cloned := make([]SourceGroup, len(list))
		for i, g := range list {
			cloned[i] = g.Copy()
		}
		copied.groups[media] = cloned
	}
	return copied
}

func (m *MediaSourceGroupMap) IsEmpty() bool {
	for _, list := range m.groups {
		if len(list) > 0 {
			return false
		}
	}
	return true
}

// Size returns the total number of groups across all media types.
func (m *MediaSourceGroupMap) Size() int {
	total := 0
	for _, list := range m.groups {
		total += len(list)
	}
	return total
}
