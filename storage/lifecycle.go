package storage

import (
	"encoding/json"
	"fmt"

	"github.com/go-kit/log/level"
)

// Close flushes every in-memory block to cold storage, stops the
// background processor, and truncates the WAL (spec §4.M close(): the
// only point at which the WAL is safe to truncate, since every record it
// holds has by then been durably reflected in a cold file). If that flush
// fails, the WAL is left in place for the next replay.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return nil
	}
	flushErr := e.Flush()
	e.closed.Store(true)
	e.mu.Unlock()
	if flushErr != nil {
		level.Error(e.logger).Log("msg", "flush during close failed, keeping the wal", "err", flushErr)
	}

	close(e.schedStop)
	e.schedWG.Wait()

	if err := e.bg.Shutdown(); err != nil {
		level.Warn(e.logger).Log("msg", "background processor shutdown timed out", "err", err)
	}

	if flushErr == nil {
		if err := e.w.Truncate(); err != nil {
			level.Warn(e.logger).Log("msg", "wal truncate during close failed", "err", err)
		}
	}

	return e.w.Close()
}

// Stats is a point-in-time snapshot of the engine's counters for the
// stats() operation (spec §4.M, §9).
type Stats struct {
	WriteCount     uint64 `json:"write_count"`
	WriteBytes     uint64 `json:"write_bytes"`
	ReadCount      uint64 `json:"read_count"`
	ReadBytes      uint64 `json:"read_bytes"`
	CacheHit       uint64 `json:"cache_hit"`
	CacheMiss      uint64 `json:"cache_miss"`
	SeriesCount    int    `json:"series_count"`
	ColdFileCount  int    `json:"cold_file_count"`
	SealedBlocks   int    `json:"sealed_blocks"`
	RowGroupsTotal uint64 `json:"row_groups_total"`
	RowGroupsRead  uint64 `json:"row_groups_read"`
	BytesSkipped   uint64 `json:"bytes_skipped"`
}

// Stats returns a snapshot of the engine's current counters and sizes.
func (e *Engine) Stats() Stats {
	e.coldMu.Lock()
	coldCount := len(e.coldFiles)
	e.coldMu.Unlock()

	cacheStats := e.c.Snapshot()

	return Stats{
		WriteCount:     e.metrics.WriteCount.Load(),
		WriteBytes:     e.metrics.WriteBytes.Load(),
		ReadCount:      e.metrics.ReadCount.Load(),
		ReadBytes:      e.metrics.ReadBytes.Load(),
		CacheHit:       cacheStats.L1Hits + cacheStats.L2Hits + cacheStats.L3Hits,
		CacheMiss:      e.metrics.CacheMiss.Load(),
		SeriesCount:    e.idx.Len(),
		ColdFileCount:  coldCount,
		SealedBlocks:   len(*e.sealedBlocks.Load()),
		RowGroupsTotal: e.metrics.RowGroupsTotal.Load(),
		RowGroupsRead:  e.metrics.RowGroupsRead.Load(),
		BytesSkipped:   e.metrics.BytesSkipped.Load(),
	}
}

// String renders Stats as a one-line human-readable summary, the same
// compact form the teacher's CLI prints.
func (s Stats) String() string {
	return fmt.Sprintf("writes=%d reads=%d series=%d cold_files=%d sealed_blocks=%d cache_hit=%d cache_miss=%d",
		s.WriteCount, s.ReadCount, s.SeriesCount, s.ColdFileCount, s.SealedBlocks, s.CacheHit, s.CacheMiss)
}

// JSON renders Stats as indented JSON for machine consumption.
func (s Stats) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
