package catalog

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/grafana/tsdb-engine/codec"
	"github.com/grafana/tsdb-engine/coldfile"
	"github.com/grafana/tsdb-engine/labelset"
)

func writeColdFile(t *testing.T, path string) labelset.SeriesID {
	t.Helper()
	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := labelset.SeriesIDFromLabels(ls)

	w := coldfile.NewWriter(path, codec.DefaultConfig(), coldfile.DefaultNDV, coldfile.DefaultFPP)
	w.Add(coldfile.RecordBatch{Rows: []coldfile.Row{
		{Timestamp: 1_000_000, Value: 1.0, SeriesID: sid, Labels: ls},
		{Timestamp: 1_000_001, Value: 2.0, SeriesID: sid, Labels: ls},
	}})
	require.NoError(t, w.Close())
	return sid
}

func TestGetFileMetaBuildsFromRowGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tscf")
	writeColdFile(t, path)

	c := New()
	m, err := c.GetFileMeta(path)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), m.MinTS)
	require.Equal(t, int64(1_000_001), m.MaxTS)
	require.Len(t, m.RowGroups, 1)
}

func TestGetFileMetaCachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tscf")
	writeColdFile(t, path)

	c := New()
	m1, err := c.GetFileMeta(path)
	require.NoError(t, err)
	m2, err := c.GetFileMeta(path)
	require.NoError(t, err)
	require.Same(t, m1, m2)
}

func TestConcurrentGetFileMetaSharesOneBuild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tscf")
	writeColdFile(t, path)

	c := New()
	var wg sync.WaitGroup
	results := make([]*FileMeta, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.GetFileMeta(path)
			require.NoError(t, err)
			results[i] = m
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestBloomAndSecondaryIndexLoadAndCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tscf")
	sid := writeColdFile(t, path)

	c := New()
	bf, err := c.Bloom(path)
	require.NoError(t, err)
	require.True(t, bf.MightContain(sid))

	si, err := c.SecondaryIndex(path)
	require.NoError(t, err)
	locs := si.LookupInTimeRange(uint64(sid), 1_000_000, 1_000_001)
	require.Len(t, locs, 1)

	bf2, err := c.Bloom(path)
	require.NoError(t, err)
	require.Same(t, bf, bf2)
}

func TestEvictForcesRebuild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tscf")
	writeColdFile(t, path)

	c := New()
	m1, err := c.GetFileMeta(path)
	require.NoError(t, err)

	c.Evict(path)
	require.Empty(t, c.Paths())

	m2, err := c.GetFileMeta(path)
	require.NoError(t, err)
	require.NotSame(t, m1, m2)
	require.Equal(t, m1.MinTS, m2.MinTS)
	if diff := cmp.Diff(m1.RowGroups, m2.RowGroups); diff != "" {
		t.Errorf("rebuilt row groups differ from original (-want +got):\n%s", diff)
	}
}

func TestPathsListsTrackedFiles(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.tscf")
	pathB := filepath.Join(dir, "b.tscf")
	writeColdFile(t, pathA)
	writeColdFile(t, pathB)

	c := New()
	_, err := c.GetFileMeta(pathA)
	require.NoError(t, err)
	_, err = c.GetFileMeta(pathB)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{pathA, pathB}, c.Paths())
}
