package coldfile

import (
	"github.com/grafana/tsdb-engine/labelset"
)

// PruneStats records per-query pruning outcomes for one file, feeding the
// cold-tier query metrics named in spec §6.
type PruneStats struct {
	RowGroupsTotal      int
	RowGroupsPrunedTime int
	RowGroupsPrunedTags int
	RowGroupsRead       int
	BytesSkipped        int64
	BytesRead           int64
}

// Query runs the three-phase prune spec §4.I describes against one open
// file: time pruning from row-group stats alone, tag pruning from the
// tags-only projection, then a full read of whatever row groups survive.
// Matchers must already be Compile()d. Samples are filtered to [t0,t1]
// and grouped by canonical labels into output series.
func (r *Reader) Query(matchers []labelset.LabelMatcher, t0, t1 int64) ([]labelset.TimeSeries, PruneStats) {
	var stats PruneStats
	stats.RowGroupsTotal = r.NumRowGroups()

	bySeries := make(map[string]*labelset.TimeSeries)

	for i := 0; i < r.NumRowGroups(); i++ {
		rgStats := r.RowGroupStats(i)
		if rgStats.MaxTS < t0 || rgStats.MinTS > t1 {
			stats.RowGroupsPrunedTime++
			stats.BytesSkipped += rgStats.TotalByteSize
			continue
		}

		tags, err := r.ReadRowGroupTags(i)
		if err != nil {
			continue
		}
		if len(matchers) > 0 && !anyLabelsMatch(tags, matchers) {
			stats.RowGroupsPrunedTags++
			stats.BytesSkipped += rgStats.TotalByteSize
			continue
		}

		rows, err := r.ReadRowGroup(i)
		if err != nil {
			continue
		}
		stats.RowGroupsRead++
		stats.BytesRead += rgStats.TotalByteSize

		for _, row := range rows {
			if row.Timestamp < t0 || row.Timestamp > t1 {
				continue
			}
			if len(matchers) > 0 && !labelset.MatchesAll(row.Labels, matchers) {
				continue
			}
			key := row.Labels.Canonical()
			ts, ok := bySeries[key]
			if !ok {
				ts = &labelset.TimeSeries{Labels: row.Labels.Clone()}
				bySeries[key] = ts
			}
			ts.Samples = append(ts.Samples, labelset.Sample{Timestamp: row.Timestamp, Value: row.Value})
		}
	}

	out := make([]labelset.TimeSeries, 0, len(bySeries))
	for _, ts := range bySeries {
		out = append(out, *ts)
	}
	return out, stats
}

func anyLabelsMatch(tags []labelset.Labels, matchers []labelset.LabelMatcher) bool {
	for _, ls := range tags {
		if labelset.MatchesAll(ls, matchers) {
			return true
		}
	}
	return false
}

// QueryByLocations decodes exactly the row groups named by locs — the
// Phase 2 read-selected-row-groups step of spec §4.I/K's three-phase
// prune, once a series' RowLocations have already been resolved through
// the bloom filter (Phase 0) and secondary index (Phase 1). Every row
// group not named by locs counts as pruned-by-time, since the secondary
// index's row-group-local [min_ts,max_ts] is exactly the time-pruning
// test applied ahead of time at index-build time.
//
// A decoded row is trusted as sid's only after its own stored Labels are
// compared against the caller's labels: a SeriesID collision means a row
// group selected for sid may hold another series' rows too, and spec
// §4.K requires that mismatch be rejected before the row group is
// trusted to contain the requested series.
func (r *Reader) QueryByLocations(sid labelset.SeriesID, labels labelset.Labels, locs []RowLocation, t0, t1 int64) ([]labelset.Sample, PruneStats) {
	stats := PruneStats{RowGroupsTotal: r.NumRowGroups()}

	selected := make(map[int32]bool, len(locs))
	for _, loc := range locs {
		selected[loc.RowGroupID] = true
	}
	for i := 0; i < r.NumRowGroups(); i++ {
		if !selected[int32(i)] {
			stats.RowGroupsPrunedTime++
			stats.BytesSkipped += r.RowGroupStats(i).TotalByteSize
		}
	}

	var samples []labelset.Sample
	for rgID := range selected {
		rgStats := r.RowGroupStats(int(rgID))
		rows, err := r.ReadRowGroup(int(rgID))
		if err != nil {
			continue
		}
		stats.RowGroupsRead++
		stats.BytesRead += rgStats.TotalByteSize

		for _, row := range rows {
			if row.SeriesID != sid || !row.Labels.Equal(labels) {
				continue
			}
			if row.Timestamp < t0 || row.Timestamp > t1 {
				continue
			}
			samples = append(samples, labelset.Sample{Timestamp: row.Timestamp, Value: row.Value})
		}
	}
	return samples, stats
}
