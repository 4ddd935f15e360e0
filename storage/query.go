package storage

import (
	"sort"

	"github.com/go-kit/log/level"

	"github.com/grafana/tsdb-engine/coldfile"
	"github.com/grafana/tsdb-engine/labelset"
	"github.com/grafana/tsdb-engine/metrics"
)

// Read resolves one exact-labels series across the mutable block, sealed
// blocks, and the cold tier, clipped to [t0,t1] and deduplicated by
// timestamp (spec §4.M read()).
func (e *Engine) Read(labels labelset.Labels, t0, t1 int64) (labelset.TimeSeries, error) {
	if e.closed.Load() {
		return labelset.TimeSeries{}, ErrClosed
	}

	timer := metrics.StartTimer(e.metrics, metrics.OpRead)
	defer timer.Stop()

	empty := labelset.TimeSeries{Labels: labels, Samples: nil}
	if len(labels) == 0 || t0 > t1 {
		return empty, nil
	}

	e.mu.RLock()
	sid, ok := e.idx.Lookup(labels)
	e.mu.RUnlock()
	if !ok {
		// No such series: empty result, not an error (spec §4.M read(),
		// scenario 6 — a collision-defended lookup miss must not surface
		// as a failure the caller has to handle differently from "no data").
		return empty, nil
	}

	merged := e.mergeAllSources(sid, labels, t0, t1)
	if len(merged.Samples) == 0 {
		return empty, nil
	}
	return merged, nil
}

// Query resolves every series matching matchers, clipped to [t0,t1], the
// same way Read does for a single series (spec §4.M query()).
func (e *Engine) Query(matchers []labelset.LabelMatcher, t0, t1 int64) ([]labelset.TimeSeries, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := labelset.CompileAll(matchers); err != nil {
		return nil, newErr(KindInvalidArgument, "invalid matcher: "+err.Error())
	}

	timer := metrics.StartTimer(e.metrics, metrics.OpRead)
	defer timer.Stop()

	e.mu.RLock()
	sids := e.idx.Query(matchers)
	labelsBySid := make(map[labelset.SeriesID]labelset.Labels, len(sids))
	for _, sid := range sids {
		if ls, ok := e.idx.LabelsFor(sid); ok {
			labelsBySid[sid] = ls
		}
	}
	e.mu.RUnlock()

	out := make([]labelset.TimeSeries, 0, len(sids))
	for _, sid := range sids {
		ls, ok := labelsBySid[sid]
		if !ok {
			continue
		}
		merged := e.mergeAllSources(sid, ls, t0, t1)
		if len(merged.Samples) > 0 {
			out = append(out, merged)
		}
	}
	return out, nil
}

// mergeAllSources merges the mutable block, every sealed block, and the
// cold tier (via the read-through cache) for one series, preferring the
// in-memory value on a timestamp collision since it is always at least as
// fresh as anything already flushed to cold storage.
func (e *Engine) mergeAllSources(sid labelset.SeriesID, labels labelset.Labels, t0, t1 int64) labelset.TimeSeries {
	byTS := make(map[int64]float64)

	coldTS, ok := e.c.Get(sid, func() (labelset.TimeSeries, bool) {
		return e.loadColdSeries(sid, labels)
	})
	if ok {
		for _, s := range coldTS.Samples {
			if s.Timestamp >= t0 && s.Timestamp <= t1 {
				byTS[s.Timestamp] = s.Value
			}
		}
	}

	for _, blk := range *e.sealedBlocks.Load() {
		ts := blk.Read(sid)
		for _, s := range ts.Samples {
			if s.Timestamp >= t0 && s.Timestamp <= t1 {
				byTS[s.Timestamp] = s.Value
			}
		}
	}

	for _, s := range e.currentBlock.Load().Read(sid).Samples {
		if s.Timestamp >= t0 && s.Timestamp <= t1 {
			byTS[s.Timestamp] = s.Value
		}
	}

	samples := make([]labelset.Sample, 0, len(byTS))
	for ts, v := range byTS {
		samples = append(samples, labelset.Sample{Timestamp: ts, Value: v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp < samples[j].Timestamp })

	return labelset.TimeSeries{Labels: labels, Samples: samples}
}

// loadColdSeries is the cache's L3 loader: it returns the FULL history of
// sid across every cold file (not time-clipped), so the cached entry is
// reusable across queries with different [t0,t1] windows; callers clip
// and dedup after Get returns. Each file is consulted through the
// two-phase prune spec §4.I/J/K names: Phase 0 is a bloom-filter
// membership check (a negative result skips the file without opening any
// row group), Phase 1 is a secondary-index lookup that narrows the read
// down to the row groups that actually contain sid, and only those row
// groups are decoded.
func (e *Engine) loadColdSeries(sid labelset.SeriesID, labels labelset.Labels) (labelset.TimeSeries, bool) {
	e.coldMu.Lock()
	paths := append([]string(nil), e.coldFiles...)
	e.coldMu.Unlock()

	var samples []labelset.Sample
	found := false
	for _, path := range paths {
		r, err := e.cat.Reader(path)
		if err != nil {
			level.Warn(e.logger).Log("msg", "cold file open failed during read", "path", path, "err", err)
			continue
		}

		if ok := e.bloomPass(path, sid); !ok {
			continue
		}

		locs, ok := e.secondaryIndexLocations(path, sid)
		if !ok {
			// No sidecar (or it failed to load): fall back to the general
			// three-phase matcher-based scan so a missing/corrupt .idx
			// sidecar degrades to a full read rather than losing data.
			series, stats := r.Query(exactMatchersFor(labels), minInt64, maxInt64)
			e.recordPruneStats(stats)
			for _, s := range series {
				if !s.Labels.Equal(labels) {
					continue
				}
				samples = append(samples, s.Samples...)
				found = true
			}
			continue
		}
		if len(locs) == 0 {
			continue
		}

		rowSamples, stats := r.QueryByLocations(sid, labels, locs, minInt64, maxInt64)
		e.recordPruneStats(stats)
		if len(rowSamples) > 0 {
			samples = append(samples, rowSamples...)
			found = true
		}
	}
	if !found {
		return labelset.TimeSeries{}, false
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp < samples[j].Timestamp })
	return labelset.TimeSeries{Labels: labels, Samples: samples}, true
}

// bloomPass runs Phase 0 against path's sidecar bloom filter: a negative
// result means sid is definitely absent from the file and it can be
// skipped without ever being opened for row-group data. A failure to
// load the sidecar itself (missing/corrupt) is treated as a pass so the
// file still gets a real (slower) scan instead of silently losing data.
func (e *Engine) bloomPass(path string, sid labelset.SeriesID) bool {
	timer := metrics.StartTimer(e.metrics, metrics.OpBloomLookup)
	bf, err := e.cat.Bloom(path)
	timer.Stop()
	if err != nil {
		level.Warn(e.logger).Log("msg", "bloom sidecar load failed, scanning file", "path", path, "err", err)
		return true
	}
	e.metrics.BloomChecks.Add(1)
	if !bf.MightContain(sid) {
		e.metrics.BloomSkips.Add(1)
		return false
	}
	e.metrics.BloomPasses.Add(1)
	return true
}

// secondaryIndexLocations runs Phase 1 against path's sidecar secondary
// index: the row-group RowLocations that actually hold sid, narrowed
// across the file's full time range since this loader caches the series'
// complete history (see loadColdSeries). ok is false only when the
// sidecar itself could not be loaded, signaling the caller to fall back
// to a full scan.
func (e *Engine) secondaryIndexLocations(path string, sid labelset.SeriesID) ([]coldfile.RowLocation, bool) {
	timer := metrics.StartTimer(e.metrics, metrics.OpSecondaryIndexLookup)
	si, err := e.cat.SecondaryIndex(path)
	timer.Stop()
	if err != nil {
		level.Warn(e.logger).Log("msg", "secondary index sidecar load failed, scanning file", "path", path, "err", err)
		return nil, false
	}

	e.metrics.IdxLookups.Add(1)
	locs := si.LookupInTimeRange(uint64(sid), minInt64, maxInt64)
	if len(locs) == 0 {
		e.metrics.IdxMisses.Add(1)
		return nil, true
	}
	e.metrics.IdxHits.Add(1)
	e.metrics.IdxRowGroupsSelected.Add(uint64(len(locs)))
	return locs, true
}

// recordPruneStats folds one cold-file query's PruneStats into the
// engine's cumulative cold-tier query counters (spec §6).
func (e *Engine) recordPruneStats(stats coldfile.PruneStats) {
	e.metrics.RowGroupsTotal.Add(uint64(stats.RowGroupsTotal))
	e.metrics.RowGroupsPrunedTime.Add(uint64(stats.RowGroupsPrunedTime))
	e.metrics.RowGroupsPrunedTags.Add(uint64(stats.RowGroupsPrunedTags))
	e.metrics.RowGroupsRead.Add(uint64(stats.RowGroupsRead))
	e.metrics.BytesSkipped.Add(uint64(stats.BytesSkipped))
	e.metrics.BytesRead.Add(uint64(stats.BytesRead))
}

func exactMatchersFor(labels labelset.Labels) []labelset.LabelMatcher {
	ms := make([]labelset.LabelMatcher, 0, len(labels))
	for _, l := range labels {
		ms = append(ms, labelset.LabelMatcher{Name: l.Name, Type: labelset.Equal, Value: l.Value})
	}
	return ms
}

// LabelNames returns the set of distinct label names across all indexed
// series (spec §4.M label_names()).
func (e *Engine) LabelNames() ([]string, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.LabelNames(), nil
}

// LabelValues returns the set of distinct values observed for name
// (spec §4.M label_values()).
func (e *Engine) LabelValues(name string) ([]string, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.LabelValues(name), nil
}

// DeleteSeries removes every series matching matchers from the index and
// invalidates their cache entries. Cold-file data is not rewritten;
// it becomes unreachable since the index no longer resolves the series
// (spec §4.M delete_series(), which names this as the Non-goal-bounded
// "logical delete").
func (e *Engine) DeleteSeries(matchers []labelset.LabelMatcher) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := labelset.CompileAll(matchers); err != nil {
		return newErr(KindInvalidArgument, "invalid matcher: "+err.Error())
	}

	e.mu.Lock()
	sids := e.idx.Query(matchers)
	n := e.idx.DeleteSeries(matchers)
	e.mu.Unlock()

	for _, sid := range sids {
		e.c.Invalidate(sid)
	}
	if n == 0 {
		return nil
	}
	level.Info(e.logger).Log("msg", "deleted series", "count", n)
	return nil
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)
