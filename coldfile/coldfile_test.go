package coldfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/tsdb-engine/codec"
	"github.com/grafana/tsdb-engine/labelset"
)

func rowFor(sid labelset.SeriesID, ls labelset.Labels, ts int64, v float64) Row {
	canon := ls.Canonical()
	return Row{
		Timestamp:   ts,
		Value:       v,
		SeriesID:    sid,
		LabelsCRC32: labelset.LabelsCRC32(canon),
		Labels:      ls,
	}
}

func TestWriterReaderRowGroupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0001.tscf")

	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)
	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := labelset.SeriesIDFromLabels(ls)

	var rows []Row
	for i := int64(0); i < 100; i++ {
		rows = append(rows, rowFor(sid, ls, 1_000_000+i, float64(i)))
	}
	w.Add(RecordBatch{Rows: rows})
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 1, r.NumRowGroups())

	got, err := r.ReadRowGroup(0)
	require.NoError(t, err)
	require.Len(t, got, 100)
	for i, row := range got {
		require.Equal(t, 1_000_000+int64(i), row.Timestamp)
		require.Equal(t, float64(i), row.Value)
		require.True(t, ls.Equal(row.Labels))
	}

	stats := r.RowGroupStats(0)
	require.Equal(t, int64(1_000_000), stats.MinTS)
	require.Equal(t, int64(1_000_099), stats.MaxTS)
}

func TestReadRowGroupTagsProjectionOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0002.tscf")

	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)
	lsA := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "a"})
	lsB := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "b"})
	sidA := labelset.SeriesIDFromLabels(lsA)
	sidB := labelset.SeriesIDFromLabels(lsB)

	w.Add(RecordBatch{Rows: []Row{
		rowFor(sidA, lsA, 1, 1.0),
		rowFor(sidB, lsB, 2, 2.0),
	}})
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)

	tags, err := r.ReadRowGroupTags(0)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	require.True(t, lsA.Equal(tags[0]) || lsB.Equal(tags[0]))
}

func TestBloomFilterSoundness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0003.tscf")

	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)
	present := labelset.SeriesIDFromLabels(labelset.FromMap(map[string]string{"__name__": "present"}))
	absent := labelset.SeriesIDFromLabels(labelset.FromMap(map[string]string{"__name__": "absent"}))

	w.Add(RecordBatch{Rows: []Row{rowFor(present, labelset.FromMap(map[string]string{"__name__": "present"}), 1, 1.0)}})
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	bf, err := r.OpenBloom()
	require.NoError(t, err)

	require.True(t, bf.MightContain(present))
	// A bloom filter may false-positive but never false-negative: we can
	// only assert the sound direction (present -> true), not that absent
	// is always false.
	_ = bf.MightContain(absent)
}

func TestSecondaryIndexScenario7DisjointRowGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0004.tscf")

	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := labelset.SeriesIDFromLabels(ls)

	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)
	w.rowGroupMax = 1 // force every Add to flush its own row group

	var first []Row
	for i := int64(0); i < 1024; i++ {
		first = append(first, rowFor(sid, ls, 1_000_000+i, float64(i)))
	}
	w.Add(RecordBatch{Rows: first})
	w.flushRowGroup()

	var second []Row
	for i := int64(0); i < 1024; i++ {
		second = append(second, rowFor(sid, ls, 5_000_000+i, float64(i)))
	}
	w.Add(RecordBatch{Rows: second})
	require.NoError(t, w.Close())

	si, err := loadSecondaryIndex(path + ".idx")
	require.NoError(t, err)

	locs := si.LookupInTimeRange(uint64(sid), 1_000_000, 1_000_100)
	require.Len(t, locs, 1)
	require.Equal(t, int32(0), locs[0].RowGroupID)
}

func TestQueryTimePruningSkipsDisjointRowGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0005.tscf")

	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := labelset.SeriesIDFromLabels(ls)

	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)

	var early []Row
	for i := int64(0); i < 50; i++ {
		early = append(early, rowFor(sid, ls, 1_000_000+i, float64(i)))
	}
	w.Add(RecordBatch{Rows: early})
	w.flushRowGroup()

	var late []Row
	for i := int64(0); i < 50; i++ {
		late = append(late, rowFor(sid, ls, 5_000_000+i, float64(i)))
	}
	w.Add(RecordBatch{Rows: late})
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 2, r.NumRowGroups())

	out, stats := r.Query(nil, 1_000_000, 1_000_049)
	require.Equal(t, 1, stats.RowGroupsRead)
	require.Equal(t, 1, stats.RowGroupsPrunedTime)
	require.Len(t, out, 1)
	require.Len(t, out[0].Samples, 50)
}

func TestQueryTagPruningSkipsNonMatchingRowGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0006.tscf")

	lsA := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "a"})
	lsB := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "b"})
	sidA := labelset.SeriesIDFromLabels(lsA)
	sidB := labelset.SeriesIDFromLabels(lsB)

	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)
	w.Add(RecordBatch{Rows: []Row{rowFor(sidA, lsA, 1, 1.0), rowFor(sidA, lsA, 2, 2.0)}})
	w.flushRowGroup()
	w.Add(RecordBatch{Rows: []Row{rowFor(sidB, lsB, 1, 1.0), rowFor(sidB, lsB, 2, 2.0)}})
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)

	m := labelset.LabelMatcher{Type: labelset.Equal, Name: "host", Value: "a"}
	require.NoError(t, m.Compile())

	out, stats := r.Query([]labelset.LabelMatcher{m}, 0, 100)
	require.Equal(t, 1, stats.RowGroupsRead)
	require.Equal(t, 1, stats.RowGroupsPrunedTags)
	require.Len(t, out, 1)
	require.True(t, lsA.Equal(out[0].Labels))
}

func TestWriterCreatesSidecarFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk-0007.tscf")

	ls := labelset.FromMap(map[string]string{"__name__": "cpu"})
	sid := labelset.SeriesIDFromLabels(ls)
	w := NewWriter(path, codec.DefaultConfig(), DefaultNDV, DefaultFPP)
	w.Add(RecordBatch{Rows: []Row{rowFor(sid, ls, 1, 1.0)}})
	require.NoError(t, w.Close())

	for _, suffix := range []string{"", ".bloom", ".idx"} {
		_, err := os.Stat(path + suffix)
		require.NoError(t, err)
	}
}
