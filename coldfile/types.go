// Package coldfile implements the immutable columnar cold-tier file (spec
// §4.I/J/K): a Parquet-style writer/reader with row-group statistics, a
// sidecar bloom filter for Phase 0 pruning, and a sidecar secondary index
// for Phase 1 pruning.
package coldfile

import "github.com/grafana/tsdb-engine/labelset"

// Row is one (timestamp, value) sample belonging to one series, carried
// alongside its identifying columns for the writer.
type Row struct {
	Timestamp   int64
	Value       float64
	SeriesID    labelset.SeriesID
	LabelsCRC32 uint32
	Labels      labelset.Labels
}

// RecordBatch is the writer's unit of input: an unordered collection of
// Rows, typically one flushed block's worth of decoded series.
type RecordBatch struct {
	Rows []Row
}

// RowGroupStats is the per-row-group statistics persisted in the file
// footer and mirrored into the catalog's FileMeta.
type RowGroupStats struct {
	MinTS         int64
	MaxTS         int64
	NumRows       int
	TotalByteSize int64
}

// RowLocation pinpoints where one series' samples live within a cold
// file: which row group, and the series' own [min_ts,max_ts] within that
// row group (never the series' file-wide bounds — see spec §4.K).
// RowOffset is not filled in by the writer and is always 0.
type RowLocation struct {
	RowGroupID int32
	RowOffset  int64
	MinTS      int64
	MaxTS      int64
}
