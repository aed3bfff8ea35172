package source_test

import (
	"testing"

	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxSources = 20

func emptyState() (*source.MediaSourceMap, *source.MediaSourceGroupMap) {
	return source.NewMediaSourceMap(), source.NewMediaSourceGroupMap()
}

func newValidator(sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) *source.Validator {
	return source.NewValidator("p1@room/a", sources, groups, maxSources, nil)
}

func sourcesOf(list ...source.Source) *source.MediaSourceMap {
	m := source.NewMediaSourceMap()
	for _, s := range list {
		m.AddSource(source.MediaAudio, s)
	}
	return m
}

func TestSSRCBoundaries(t *testing.T) {
	for _, tc := range []struct {
		ssrc     int64
		accepted bool
	}{
		{0, false},
		{1, true},
		{0xFFFFFFFF, true},
		{0x100000000, false},
		{-5, false},
	} {
		v := newValidator(emptyState())
		accepted, _, err := v.TryAdd(sourcesOf(newSource(tc.ssrc, "", "s1")), nil)
		if tc.accepted {
			require.NoError(t, err, "ssrc %d", tc.ssrc)
			assert.Equal(t, 1, accepted.Size())
		} else {
			require.Error(t, err, "ssrc %d", tc.ssrc)
			assert.ErrorContains(t, err, "SSRC")
		}
	}
}

func TestSourceWithoutSSRCOrRidRejected(t *testing.T) {
	v := newValidator(emptyState())
	_, _, err := v.TryAdd(sourcesOf(source.Source{SSRC: source.SSRCNone}), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "neither an ssrc nor a rid")
}

func TestDuplicateAcrossMediaTypesRejected(t *testing.T) {
	state := source.NewMediaSourceMap()
	state.AddSource(source.MediaVideo, newSource(42, "p2@room/b", "s2"))

	v := newValidator(state, source.NewMediaSourceGroupMap())
	_, _, err := v.TryAdd(sourcesOf(newSource(42, "", "s1")), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "already advertised")
}

func TestExtraParamsStripped(t *testing.T) {
	s := newSource(1, "", "s1")
	s.SetParam(source.ParamCName, "c1")
	s.SetParam("label", "whatever")

	v := newValidator(emptyState())
	accepted, _, err := v.TryAdd(sourcesOf(s), nil)
	require.NoError(t, err)

	got := accepted.SourcesForMedia(source.MediaAudio)[0]
	assert.Equal(t, "s1", got.MSID())
	assert.Equal(t, "c1", got.CName())
	assert.NotContains(t, got.Params, "label")
}

func TestOwnerCapDropsWithoutFailing(t *testing.T) {
	incoming := source.NewMediaSourceMap()
	for i := int64(1); i <= maxSources+5; i++ {
		s := source.Source{SSRC: i, Owner: "p1@room/a"}
		s.SetParam(source.ParamCName, "c1")
		incoming.AddSource(source.MediaAudio, s)
	}

	v := newValidator(emptyState())
	accepted, _, err := v.TryAdd(incoming, nil)
	require.NoError(t, err)
	assert.Equal(t, maxSources, accepted.Size())
}

func TestEmptyGroupDropped(t *testing.T) {
	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{Semantics: source.SemanticsSim})

	v := newValidator(emptyState())
	_, acceptedGroups, err := v.TryAdd(nil, groups)
	require.NoError(t, err)
	assert.True(t, acceptedGroups.IsEmpty())
}

func TestGroupMemberMustBeAdvertised(t *testing.T) {
	sources := source.NewMediaSourceMap()
	sources.AddSource(source.MediaVideo, newSource(1, "", "s1"))

	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsFid,
		Sources:   []source.Source{{SSRC: 1}, {SSRC: 2}},
	})

	v := newValidator(emptyState())
	_, _, err := v.TryAdd(sources, groups)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not advertised")
}

func TestGroupedSourceNeedsMSID(t *testing.T) {
	sources := source.NewMediaSourceMap()
	sources.AddSource(source.MediaVideo, newSource(1, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(2, "", ""))

	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsFid,
		Sources:   []source.Source{{SSRC: 1}, {SSRC: 2}},
	})

	v := newValidator(emptyState())
	_, _, err := v.TryAdd(sources, groups)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no MSID")
}

func TestGroupMSIDMismatch(t *testing.T) {
	sources := source.NewMediaSourceMap()
	sources.AddSource(source.MediaVideo, newSource(1, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(2, "", "s2"))

	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsFid,
		Sources:   []source.Source{{SSRC: 1}, {SSRC: 2}},
	})

	v := newValidator(emptyState())
	_, _, err := v.TryAdd(sources, groups)
	require.Error(t, err)
	assert.ErrorContains(t, err, "MSID mismatch")
}

func TestSimulcastMSIDLeak(t *testing.T) {
	sources := source.NewMediaSourceMap()
	sources.AddSource(source.MediaVideo, newSource(1, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(2, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(3, "", "s1"))
	// An ssrc outside the grouping reusing the grouping's msid.
	sources.AddSource(source.MediaVideo, newSource(9, "", "s1"))

	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsSim,
		Sources:   []source.Source{{SSRC: 1}, {SSRC: 2}, {SSRC: 3}},
	})

	v := newValidator(emptyState())
	_, _, err := v.TryAdd(sources, groups)
	require.Error(t, err)
	assert.ErrorContains(t, err, "MSID")
	assert.ErrorContains(t, err, "outside")
}

func TestIndependentFidGroupsMustNotShareMSID(t *testing.T) {
	sources := source.NewMediaSourceMap()
	sources.AddSource(source.MediaVideo, newSource(1, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(2, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(3, "", "s1"))
	sources.AddSource(source.MediaVideo, newSource(4, "", "s1"))

	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsFid,
		Sources:   []source.Source{{SSRC: 1}, {SSRC: 2}},
	})
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsFid,
		Sources:   []source.Source{{SSRC: 3}, {SSRC: 4}},
	})

	v := newValidator(emptyState())
	_, _, err := v.TryAdd(sources, groups)
	require.Error(t, err)
	assert.ErrorContains(t, err, "more than one FID group")
}

func TestUngroupedMSIDConflict(t *testing.T) {
	// p2 already advertises audio with msid s1; p3 tries the same msid.
	state := source.NewMediaSourceMap()
	state.AddSource(source.MediaAudio, newSource(1001, "p2@room/b", "s1"))

	v := source.NewValidator("p3@room/c", state, source.NewMediaSourceGroupMap(), maxSources, nil)
	_, _, err := v.TryAdd(sourcesOf(newSource(2001, "", "s1")), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "MSID")

	var invalid *source.InvalidSourcesError
	assert.ErrorAs(t, err, &invalid)
}

func TestSingleMemberGroupAccepted(t *testing.T) {
	sources := source.NewMediaSourceMap()
	sources.AddSource(source.MediaVideo, newSource(1, "", "s1"))

	groups := source.NewMediaSourceGroupMap()
	groups.AddGroup(source.MediaVideo, source.SourceGroup{
		Semantics: source.SemanticsFecFr,
		Sources:   []source.Source{{SSRC: 1}},
	})

	v := newValidator(emptyState())
	_, acceptedGroups, err := v.TryAdd(sources, groups)
	require.NoError(t, err)
	assert.Equal(t, 1, acceptedGroups.Size())
}

func TestTryRemoveReturnsEffectiveDelta(t *testing.T) {
	state := source.NewMediaSourceMap()
	state.AddSource(source.MediaAudio, newSource(1, "p1@room/a", "s1"))
	state.AddSource(source.MediaAudio, newSource(2, "p1@room/a", "s2"))

	v := newValidator(state, source.NewMediaSourceGroupMap())
	victims := sourcesOf(newSource(2, "p1@room/a", "s2"), newSource(3, "p1@room/a", "s3"))
	removed, _, err := v.TryRemove(victims, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed.Size())
	assert.Equal(t, int64(2), removed.SourcesForMedia(source.MediaAudio)[0].SSRC)
}

func TestRejectedChangeIsAtomic(t *testing.T) {
	state := source.NewMediaSourceMap()
	state.AddSource(source.MediaAudio, newSource(1001, "p2@room/b", "s1"))
	before := state.CopyDeep()

	v := source.NewValidator("p3@room/c", state, source.NewMediaSourceGroupMap(), maxSources, nil)
	incoming := sourcesOf(newSource(2000, "", "fresh"), newSource(2001, "", "s1"))
	_, _, err := v.TryAdd(incoming, nil)
	require.Error(t, err)

	// The caller's state was never touched, not even by the valid part of
	// the change.
	assert.Equal(t, before.Size(), state.Size())
}
