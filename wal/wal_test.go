package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/tsdb-engine/labelset"
)

func series(name string, ts int64, v float64) labelset.TimeSeries {
	return labelset.TimeSeries{
		Labels:  labelset.FromMap(map[string]string{"__name__": name}),
		Samples: []labelset.Sample{{Timestamp: ts, Value: v}},
	}
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir))
	require.NoError(t, err)

	require.NoError(t, w.Append(series("cpu", 1000, 1.0)))
	require.NoError(t, w.Append(series("cpu", 2000, 2.0)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	w2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer w2.Close()

	var got []labelset.TimeSeries
	stats, err := w2.Replay(func(ts labelset.TimeSeries) error {
		got = append(got, ts)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, stats.RecordsReplayed)
	require.Equal(t, 0, stats.RecordsSkipped)
	require.Len(t, got, 2)
	require.Equal(t, int64(1000), got[0].Samples[0].Timestamp)
	require.Equal(t, 2.0, got[1].Samples[0].Value)
}

func TestReplaySkipsCorruptRecordAndContinues(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Append(series("cpu", 1000, 1.0)))
	require.NoError(t, w.Append(series("cpu", 2000, 2.0)))
	require.NoError(t, w.Close())

	segments, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	path := segmentPath(dir, segments[0])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the first record's compressed payload (after the
	// 8-byte header) so its CRC check fails without desyncing the length
	// framing of the second record.
	data[10] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	w2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer w2.Close()

	var got []labelset.TimeSeries
	stats, err := w2.Replay(func(ts labelset.TimeSeries) error {
		got = append(got, ts)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, stats.RecordsSkipped)
	require.Equal(t, 1, stats.RecordsReplayed)
	require.Len(t, got, 1)
	require.Equal(t, int64(2000), got[0].Samples[0].Timestamp)
}

func TestReplayTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Append(series("cpu", 1000, 1.0)))
	require.NoError(t, w.Close())

	segments, err := listSegments(dir)
	require.NoError(t, err)
	path := segmentPath(dir, segments[0])

	good, err := os.Stat(path)
	require.NoError(t, err)

	// Simulate a crash mid-append of a second record: a complete first
	// record followed by a torn length-prefix header.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], 9999)
	_, err = f.Write(header[:3]) // only 3 of 8 header bytes
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer w2.Close()

	var got []labelset.TimeSeries
	stats, err := w2.Replay(func(ts labelset.TimeSeries) error {
		got = append(got, ts)
		return nil
	})
	require.NoError(t, err)
	require.True(t, stats.TailTruncated)
	require.Equal(t, 1, stats.RecordsReplayed)
	require.Len(t, got, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, good.Size(), info.Size(), "torn tail must be physically truncated")
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentSize = 40 // force rotation almost every record
	w, err := Open(cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Append(series("cpu", int64(i*1000), float64(i))))
	}
	require.NoError(t, w.Close())

	segments, err := listSegments(dir)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1, "small segment size must force rotation")

	w2, err := Open(cfg)
	require.NoError(t, err)
	defer w2.Close()
	var count int
	_, err = w2.Replay(func(labelset.TimeSeries) error { count++; return nil })
	require.NoError(t, err)
	require.Equal(t, 10, count)
}

func TestTruncateRemovesSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Append(series("cpu", 1000, 1.0)))
	require.NoError(t, w.Truncate())

	segments, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1, "truncate leaves exactly one fresh empty segment")

	info, err := os.Stat(segmentPath(dir, segments[0]))
	require.NoError(t, err)
	require.Zero(t, info.Size())
	require.NoError(t, w.Close())
}

func TestPeriodicFsyncWorkerStopsOnClose(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Fsync = Periodic
	cfg.PeriodicInterval = 0 // falls back to 1s internally
	w, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Append(series("cpu", 1000, 1.0)))
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(dir))
	require.NoError(t, err)
}
