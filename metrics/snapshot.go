package metrics

// Snapshot is a consistent-enough point-in-time copy of every counter
// (spec §4.C: "no cross-counter atomicity required"), plus metrics
// derived at snapshot time.
type Snapshot struct {
	WriteCount, WriteBytes, WriteTotalNs                                     uint64
	WALWriteNs, SeriesIDCalcNs, IndexInsertNs, SampleAppendNs, CacheUpdateNs  uint64
	BlockSealNs, BlockPersistNs                                              uint64

	ReadCount, ReadBytes, ReadTotalNs                                        uint64
	IndexSearchNs, BlockLookupNs, DecompressionNs                            uint64
	SamplesScanned, BlocksAccessed, CacheHit, CacheMiss                      uint64

	RowGroupsTotal, RowGroupsPrunedTime, RowGroupsPrunedTags, RowGroupsRead  uint64
	BytesSkipped, BytesRead                                                  uint64
	PruningNs, RowGroupReadNs, DecodingNs, ProcessingNs                      uint64

	BloomChecks, BloomSkips, BloomPasses, BloomLookupNs                      uint64

	IdxLookups, IdxHits, IdxMisses, IdxLookupNs, IdxBuildNs, IdxRowGroupsSelected uint64

	CompressionCount, CompressionBytesIn, CompressionBytesOut, CompressionNs uint64
	DecompressionCount, DecompressionBytes                                   uint64

	DroppedSamples, DerivedSamples, RuleCheckNs uint64

	// Derived
	CacheHitRatio      float64
	WriteAvgLatencyNs  float64
	ReadAvgLatencyNs   float64
	WriteThroughputMBs float64
	ReadThroughputMBs  float64
	CompressionRatio   float64
}

// Snapshot copies every counter and computes the derived fields.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		WriteCount: m.WriteCount.Load(), WriteBytes: m.WriteBytes.Load(), WriteTotalNs: m.WriteTotalNs.Load(),
		WALWriteNs: m.WALWriteNs.Load(), SeriesIDCalcNs: m.SeriesIDCalcNs.Load(), IndexInsertNs: m.IndexInsertNs.Load(),
		SampleAppendNs: m.SampleAppendNs.Load(), CacheUpdateNs: m.CacheUpdateNs.Load(),
		BlockSealNs: m.BlockSealNs.Load(), BlockPersistNs: m.BlockPersistNs.Load(),

		ReadCount: m.ReadCount.Load(), ReadBytes: m.ReadBytes.Load(), ReadTotalNs: m.ReadTotalNs.Load(),
		IndexSearchNs: m.IndexSearchNs.Load(), BlockLookupNs: m.BlockLookupNs.Load(), DecompressionNs: m.DecompressionNs.Load(),
		SamplesScanned: m.SamplesScanned.Load(), BlocksAccessed: m.BlocksAccessed.Load(),
		CacheHit: m.CacheHit.Load(), CacheMiss: m.CacheMiss.Load(),

		RowGroupsTotal: m.RowGroupsTotal.Load(), RowGroupsPrunedTime: m.RowGroupsPrunedTime.Load(),
		RowGroupsPrunedTags: m.RowGroupsPrunedTags.Load(), RowGroupsRead: m.RowGroupsRead.Load(),
		BytesSkipped: m.BytesSkipped.Load(), BytesRead: m.BytesRead.Load(),
		PruningNs: m.PruningNs.Load(), RowGroupReadNs: m.RowGroupReadNs.Load(),
		DecodingNs: m.DecodingNs.Load(), ProcessingNs: m.ProcessingNs.Load(),

		BloomChecks: m.BloomChecks.Load(), BloomSkips: m.BloomSkips.Load(),
		BloomPasses: m.BloomPasses.Load(), BloomLookupNs: m.BloomLookupNs.Load(),

		IdxLookups: m.IdxLookups.Load(), IdxHits: m.IdxHits.Load(), IdxMisses: m.IdxMisses.Load(),
		IdxLookupNs: m.IdxLookupNs.Load(), IdxBuildNs: m.IdxBuildNs.Load(),
		IdxRowGroupsSelected: m.IdxRowGroupsSelected.Load(),

		CompressionCount: m.CompressionCount.Load(), CompressionBytesIn: m.CompressionBytesIn.Load(),
		CompressionBytesOut: m.CompressionBytesOut.Load(), CompressionNs: m.CompressionNs.Load(),
		DecompressionCount: m.DecompressionCount.Load(), DecompressionBytes: m.DecompressionBytes.Load(),

		DroppedSamples: m.DroppedSamples.Load(), DerivedSamples: m.DerivedSamples.Load(),
		RuleCheckNs: m.RuleCheckNs.Load(),
	}

	if total := s.CacheHit + s.CacheMiss; total > 0 {
		s.CacheHitRatio = float64(s.CacheHit) / float64(total)
	}
	if s.WriteCount > 0 {
		s.WriteAvgLatencyNs = float64(s.WriteTotalNs) / float64(s.WriteCount)
	}
	if s.ReadCount > 0 {
		s.ReadAvgLatencyNs = float64(s.ReadTotalNs) / float64(s.ReadCount)
	}
	const nsToSec = 1e-9
	const bytesToMB = 1.0 / (1024 * 1024)
	if s.WriteTotalNs > 0 {
		s.WriteThroughputMBs = float64(s.WriteBytes) * bytesToMB / (float64(s.WriteTotalNs) * nsToSec)
	}
	if s.ReadTotalNs > 0 {
		s.ReadThroughputMBs = float64(s.ReadBytes) * bytesToMB / (float64(s.ReadTotalNs) * nsToSec)
	}
	if s.CompressionBytesIn > 0 {
		s.CompressionRatio = float64(s.CompressionBytesOut) / float64(s.CompressionBytesIn)
	}

	return s
}
