package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/tsdb-engine/labelset"
)

func mustMatchers(t *testing.T, ms []labelset.LabelMatcher) []labelset.LabelMatcher {
	t.Helper()
	require.NoError(t, labelset.CompileAll(ms))
	return ms
}

func TestInsertIsIdempotent(t *testing.T) {
	idx := New(nil)
	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	a := idx.Insert(ls)
	b := idx.Insert(ls.Clone())
	require.Equal(t, a, b)
	require.Equal(t, 1, idx.Len())
}

func TestScenario2NotEqualExcludesMatchingPresentIncludesAbsent(t *testing.T) {
	idx := New(nil)
	a := labelset.FromMap(map[string]string{"metric": "up", "env": "prod"})
	b := labelset.FromMap(map[string]string{"metric": "up", "env": "dev"})
	c := labelset.FromMap(map[string]string{"metric": "up"})
	idSA, idSB, idSC := idx.Insert(a), idx.Insert(b), idx.Insert(c)

	matchers := mustMatchers(t, []labelset.LabelMatcher{
		{Type: labelset.Equal, Name: "metric", Value: "up"},
		{Type: labelset.NotEqual, Name: "env", Value: "prod"},
	})
	got := idx.Query(matchers)
	require.ElementsMatch(t, []labelset.SeriesID{idSB, idSC}, got)
	require.NotContains(t, got, idSA)
}

func TestScenario3NotEqualEmptyRequiresPresentNonEmpty(t *testing.T) {
	idx := New(nil)
	a := labelset.FromMap(map[string]string{"metric": "up", "env": "prod"})
	b := labelset.FromMap(map[string]string{"metric": "up", "env": "dev"})
	c := labelset.FromMap(map[string]string{"metric": "up"})
	idSA, idSB, _ := idx.Insert(a), idx.Insert(b), idx.Insert(c)

	matchers := mustMatchers(t, []labelset.LabelMatcher{
		{Type: labelset.Equal, Name: "metric", Value: "up"},
		{Type: labelset.NotEqual, Name: "env", Value: ""},
	})
	got := idx.Query(matchers)
	require.ElementsMatch(t, []labelset.SeriesID{idSA, idSB}, got)
}

func TestLabelNamesAndValues(t *testing.T) {
	idx := New(nil)
	idx.Insert(labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"}))
	idx.Insert(labelset.FromMap(map[string]string{"__name__": "mem", "host": "h2"}))

	require.Equal(t, []string{"__name__", "host"}, idx.LabelNames())
	require.Equal(t, []string{"cpu", "mem"}, idx.LabelValues("__name__"))
	require.Equal(t, []string{"h1", "h2"}, idx.LabelValues("host"))
}

func TestDeleteSeriesRemovesFromBothMaps(t *testing.T) {
	idx := New(nil)
	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := idx.Insert(ls)

	matchers := mustMatchers(t, []labelset.LabelMatcher{{Type: labelset.Equal, Name: "__name__", Value: "cpu"}})
	n := idx.DeleteSeries(matchers)
	require.Equal(t, 1, n)

	_, ok := idx.LabelsFor(sid)
	require.False(t, ok)
	require.Equal(t, 0, idx.Len())
	require.Empty(t, idx.Query(matchers))
}

func TestScenario6CollisionDefenseLookupNeverCreates(t *testing.T) {
	labelset.SetHasherForTests(func(string) labelset.SeriesID { return 42 })
	defer labelset.ResetHasherForTests()

	idx := New(nil)
	lsA := labelset.FromMap(map[string]string{"__name__": "a"})
	lsB := labelset.FromMap(map[string]string{"__name__": "b"})
	idx.Insert(lsA)

	// b was never written; Lookup must not treat a's entry under the
	// colliding SeriesID as a match for b's labels.
	_, ok := idx.Lookup(lsB)
	require.False(t, ok, "lookup for an unwritten series must not be satisfied by another series sharing its forced SeriesID")

	matchers := mustMatchers(t, []labelset.LabelMatcher{{Type: labelset.Equal, Name: "__name__", Value: "b"}})
	require.Empty(t, idx.Query(matchers))
}

// TestScenario6CollisionDefenseBothSeriesWrittenGetDistinctIDs covers the
// general form of spec §8 property 6: when two distinct label sets are
// forced onto the same base SeriesID and *both* are written, Insert must
// probe to a secondary slot for the second rather than overwriting the
// first's entry, and Lookup must resolve each back to its own slot.
func TestScenario6CollisionDefenseBothSeriesWrittenGetDistinctIDs(t *testing.T) {
	labelset.SetHasherForTests(func(string) labelset.SeriesID { return 42 })
	defer labelset.ResetHasherForTests()

	idx := New(nil)
	lsA := labelset.FromMap(map[string]string{"__name__": "a"})
	lsB := labelset.FromMap(map[string]string{"__name__": "b"})

	idA := idx.Insert(lsA)
	idB := idx.Insert(lsB)
	require.NotEqual(t, idA, idB, "two distinct, both-written series forced onto the same base SeriesID must not share a slot")

	gotA, ok := idx.Lookup(lsA)
	require.True(t, ok)
	require.Equal(t, idA, gotA)

	gotB, ok := idx.Lookup(lsB)
	require.True(t, ok)
	require.Equal(t, idB, gotB)

	require.Equal(t, idA, idx.Insert(lsA.Clone()), "re-inserting a already-probed series must stay idempotent")
	require.Equal(t, idB, idx.Insert(lsB.Clone()))
	require.Equal(t, 2, idx.Len())
}
