// Package metrics implements the engine's lock-free self-monitoring
// counters. It replaces the teacher's (friggdb) package-level
// promauto.New* singletons with an engine-owned value: every Engine gets
// its own *Metrics, registered against a caller-supplied
// prometheus.Registerer, so stats can be reset per engine instance
// instead of leaking across test runs via process globals (spec §9).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Op identifies which counters a ScopedTimer increments on Stop.
type Op int

const (
	OpWrite Op = iota
	OpRead
	OpWALAppend
	OpSeriesIDCalc
	OpIndexInsert
	OpIndexSearch
	OpSampleAppend
	OpCacheUpdate
	OpBlockSeal
	OpBlockPersist
	OpBlockLookup
	OpDecompression
	OpCompression
	OpBloomLookup
	OpSecondaryIndexLookup
	OpSecondaryIndexBuild
	OpColdPruning
	OpRowGroupRead
	OpColdDecoding
	OpColdProcessing
	OpRuleCheck
)

// Metrics holds every lock-free counter named by spec §6. Every counter is
// an atomic.Uint64 field, incremented with relaxed ordering (the uber-go/atomic
// wrapper does not expose ordering modes on amd64/arm64 but compiles down
// to plain atomic adds, matching the spec's "relaxed by default" intent).
type Metrics struct {
	// Writes
	WriteCount      atomic.Uint64
	WriteBytes      atomic.Uint64
	WriteTotalNs     atomic.Uint64
	WALWriteNs       atomic.Uint64
	SeriesIDCalcNs   atomic.Uint64
	IndexInsertNs    atomic.Uint64
	SampleAppendNs   atomic.Uint64
	CacheUpdateNs    atomic.Uint64
	BlockSealNs      atomic.Uint64
	BlockPersistNs   atomic.Uint64

	// Reads
	ReadCount        atomic.Uint64
	ReadBytes        atomic.Uint64
	ReadTotalNs      atomic.Uint64
	IndexSearchNs    atomic.Uint64
	BlockLookupNs    atomic.Uint64
	DecompressionNs  atomic.Uint64
	SamplesScanned   atomic.Uint64
	BlocksAccessed   atomic.Uint64
	CacheHit         atomic.Uint64
	CacheMiss        atomic.Uint64

	// Cold-tier query
	RowGroupsTotal      atomic.Uint64
	RowGroupsPrunedTime atomic.Uint64
	RowGroupsPrunedTags atomic.Uint64
	RowGroupsRead       atomic.Uint64
	BytesSkipped        atomic.Uint64
	BytesRead           atomic.Uint64
	PruningNs           atomic.Uint64
	RowGroupReadNs      atomic.Uint64
	DecodingNs          atomic.Uint64
	ProcessingNs        atomic.Uint64

	// Bloom filter
	BloomChecks   atomic.Uint64
	BloomSkips    atomic.Uint64
	BloomPasses   atomic.Uint64
	BloomLookupNs atomic.Uint64

	// Secondary index
	IdxLookups          atomic.Uint64
	IdxHits             atomic.Uint64
	IdxMisses           atomic.Uint64
	IdxLookupNs         atomic.Uint64
	IdxBuildNs          atomic.Uint64
	IdxRowGroupsSelected atomic.Uint64

	// Compression
	CompressionCount   atomic.Uint64
	CompressionBytesIn atomic.Uint64
	CompressionBytesOut atomic.Uint64
	CompressionNs      atomic.Uint64
	DecompressionCount atomic.Uint64
	DecompressionBytes atomic.Uint64

	// Filtering
	DroppedSamples atomic.Uint64
	DerivedSamples atomic.Uint64
	RuleCheckNs    atomic.Uint64
}

// New creates a Metrics value and, if reg is non-nil, registers a
// prometheus collector that exports a fixed subset of the counters as
// friggdb-style "storage_engine_*" counters/gauges for external scraping:
// write and read counts and bytes, cache hit ratio, bloom skips, row
// groups read, and compression ratio. The other counters are not exported.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if reg != nil {
		reg.MustRegister(newCollector(m))
	}
	return m
}

// Reset zeroes every counter. Tests rely on being able to do this on a
// live engine instead of restarting a process (spec §9).
func (m *Metrics) Reset() {
	*m = Metrics{}
}

// ScopedTimer records an elapsed duration into the counter for op when
// Stop is called (or, idiomatically, via defer). It is the Go analogue of
// the teacher's RAII scoped timer (spec §9 design note: "no
// language-specific destructor idiom required").
type ScopedTimer struct {
	m     *Metrics
	op    Op
	start time.Time
	bytes uint64
}

// StartTimer begins timing op. Call Stop (typically via defer) to record.
func StartTimer(m *Metrics, op Op) *ScopedTimer {
	return &ScopedTimer{m: m, op: op, start: time.Now()}
}

// WithBytes attaches a byte count recorded alongside the duration for
// counters that track both (e.g. write/read bytes).
func (t *ScopedTimer) WithBytes(n uint64) *ScopedTimer {
	t.bytes = n
	return t
}

// Stop records the elapsed duration (and any attached byte count) into
// the metrics struct. Safe to call multiple times; only the first call
// has effect.
func (t *ScopedTimer) Stop() {
	if t == nil || t.m == nil {
		return
	}
	elapsed := uint64(time.Since(t.start).Nanoseconds())
	m := t.m
	switch t.op {
	case OpWrite:
		m.WriteCount.Add(1)
		m.WriteTotalNs.Add(elapsed)
		m.WriteBytes.Add(t.bytes)
	case OpRead:
		m.ReadCount.Add(1)
		m.ReadTotalNs.Add(elapsed)
		m.ReadBytes.Add(t.bytes)
	case OpWALAppend:
		m.WALWriteNs.Add(elapsed)
	case OpSeriesIDCalc:
		m.SeriesIDCalcNs.Add(elapsed)
	case OpIndexInsert:
		m.IndexInsertNs.Add(elapsed)
	case OpIndexSearch:
		m.IndexSearchNs.Add(elapsed)
	case OpSampleAppend:
		m.SampleAppendNs.Add(elapsed)
	case OpCacheUpdate:
		m.CacheUpdateNs.Add(elapsed)
	case OpBlockSeal:
		m.BlockSealNs.Add(elapsed)
	case OpBlockPersist:
		m.BlockPersistNs.Add(elapsed)
	case OpBlockLookup:
		m.BlockLookupNs.Add(elapsed)
	case OpDecompression:
		m.DecompressionNs.Add(elapsed)
	case OpCompression:
		m.CompressionNs.Add(elapsed)
	case OpBloomLookup:
		m.BloomLookupNs.Add(elapsed)
	case OpSecondaryIndexLookup:
		m.IdxLookupNs.Add(elapsed)
	case OpSecondaryIndexBuild:
		m.IdxBuildNs.Add(elapsed)
	case OpColdPruning:
		m.PruningNs.Add(elapsed)
	case OpRowGroupRead:
		m.RowGroupReadNs.Add(elapsed)
	case OpColdDecoding:
		m.DecodingNs.Add(elapsed)
	case OpColdProcessing:
		m.ProcessingNs.Add(elapsed)
	case OpRuleCheck:
		m.RuleCheckNs.Add(elapsed)
	}
	t.m = nil // idempotent
}
