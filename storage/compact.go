package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/grafana/tsdb-engine/coldfile"
	"github.com/grafana/tsdb-engine/labelset"
)

// Compact merges the MinFilesToCompact tier-1 cold files holding the oldest
// data (ordered by each file's earliest timestamp) into one tier-2 file
// once at least MinFilesToCompact of them exist, the same logic the background
// Compaction task runs (spec §4.M compact(), spec §4.N Compaction task).
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.coldMu.Lock()
	var tier1 []string
	for _, p := range e.coldFiles {
		if filepath.Dir(p) == filepath.Join(e.cfg.DataDir, tier1DirName) {
			tier1 = append(tier1, p)
		}
	}
	e.coldMu.Unlock()

	if len(tier1) < e.cfg.MinFilesToCompact {
		return nil
	}
	sort.Strings(tier1)
	minTS := make(map[string]int64, len(tier1))
	for _, p := range tier1 {
		if meta, err := e.cat.GetFileMeta(p); err == nil {
			minTS[p] = meta.MinTS
		}
	}
	sort.SliceStable(tier1, func(i, j int) bool { return minTS[tier1[i]] < minTS[tier1[j]] })
	batch := tier1[:e.cfg.MinFilesToCompact]

	merged := make(map[string]*labelset.TimeSeries) // canonical labels -> series
	for _, path := range batch {
		r, err := e.cat.Reader(path)
		if err != nil {
			return fmt.Errorf("storage: open %s for compaction: %w", path, err)
		}
		series, _ := r.Query(nil, minInt64, maxInt64)
		for _, ts := range series {
			key := ts.Labels.Canonical()
			if existing, ok := merged[key]; ok {
				existing.Samples = append(existing.Samples, ts.Samples...)
			} else {
				cp := ts
				merged[key] = &cp
			}
		}
	}

	var rows []coldfile.Row
	for _, ts := range merged {
		sort.Slice(ts.Samples, func(i, j int) bool { return ts.Samples[i].Timestamp < ts.Samples[j].Timestamp })
		// Same reasoning as flushBlock: resolve sid through the index so a
		// probed secondary slot from a forced collision survives compaction
		// instead of reverting to the raw, possibly-colliding base hash. A
		// series logically deleted since it was written won't resolve
		// through the index; fall back to the raw hash rather than
		// re-Insert-ing, which would resurrect it into the index.
		sid, ok := e.idx.Lookup(ts.Labels)
		if !ok {
			sid = labelset.SeriesIDFromLabels(ts.Labels)
		}
		crc := labelset.LabelsCRC32(ts.Labels.Canonical())
		for _, s := range ts.Samples {
			rows = append(rows, coldfile.Row{
				Timestamp:   s.Timestamp,
				Value:       s.Value,
				SeriesID:    sid,
				LabelsCRC32: crc,
				Labels:      ts.Labels,
			})
		}
	}

	outPath := filepath.Join(e.cfg.DataDir, tier2DirName, uuid.New().String()+".parquet")
	w := coldfile.NewWriter(outPath, e.codecCfg, e.cfg.Bloom.NDV, e.cfg.Bloom.FPP)
	w.Add(coldfile.RecordBatch{Rows: rows})
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: write compacted file: %w", err)
	}

	if _, err := e.cat.GetFileMeta(outPath); err != nil {
		level.Warn(e.logger).Log("msg", "failed to warm catalog for compacted file", "path", outPath, "err", err)
	}

	batchSet := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		batchSet[p] = struct{}{}
	}

	e.coldMu.Lock()
	next := make([]string, 0, len(e.coldFiles)-len(batch)+1)
	for _, p := range e.coldFiles {
		if _, skip := batchSet[p]; skip {
			continue
		}
		next = append(next, p)
	}
	next = append(next, outPath)
	e.coldFiles = next
	e.coldMu.Unlock()

	for _, p := range batch {
		e.cat.Evict(p)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			level.Warn(e.logger).Log("msg", "failed to remove compacted source file", "path", p, "err", err)
		}
		for _, ext := range []string{".bloom", ".idx"} {
			os.Remove(p + ext)
		}
	}

	level.Info(e.logger).Log("msg", "compaction complete", "inputs", len(batch), "output", outPath)
	return nil
}
