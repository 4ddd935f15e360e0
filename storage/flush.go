package storage

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/grafana/tsdb-engine/block"
	"github.com/grafana/tsdb-engine/coldfile"
	"github.com/grafana/tsdb-engine/labelset"
	"github.com/grafana/tsdb-engine/metrics"
)

func (e *Engine) blockFilePath(blk *block.Block) string {
	return filepath.Join(e.cfg.DataDir, blocksDirName, blk.ID().String()+".block")
}

// persistSealedBlock writes blk's serialized form to the blocks/ directory,
// per spec §6's persisted state layout. New does not read these files
// back; after a restart, sealed-but-not-yet-flushed data is recovered by
// WAL replay alone.
func (e *Engine) persistSealedBlock(blk *block.Block) error {
	data, err := blk.Serialize()
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	return os.WriteFile(e.blockFilePath(blk), data, 0644)
}

// flushBlock compresses blk's series into a new tier-1 cold file with its
// bloom and secondary-index sidecars, registers it with the catalog, then
// drops blk from the sealed-blocks list (spec §4.N: Sealed → Flushing →
// Flushed).
func (e *Engine) flushBlock(blk *block.Block) error {
	all := blk.Query(nil, math.MinInt64, math.MaxInt64)
	if len(all) == 0 {
		e.removeSealedBlock(blk)
		os.Remove(e.blockFilePath(blk))
		return nil
	}

	var rows []coldfile.Row
	for _, ts := range all {
		// Resolve through the index rather than re-deriving the hash
		// directly: a forced SeriesID collision resolves a series to a
		// secondary probe slot (index.Insert), and the cold file's
		// SeriesID must match whatever slot loadColdSeries will look it
		// up by, not the raw, potentially-colliding base hash. A series
		// deleted between write and flush won't resolve through the
		// index (delete_series is a logical, index-only delete per spec
		// §4.M); falling back to the raw hash rather than re-Insert-ing
		// keeps it out of the index instead of resurrecting it.
		sid, ok := e.idx.Lookup(ts.Labels)
		if !ok {
			sid = labelset.SeriesIDFromLabels(ts.Labels)
		}
		canon := ts.Labels.Canonical()
		crc := labelset.LabelsCRC32(canon)
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

	fileID := uuid.New()
	path := filepath.Join(e.cfg.DataDir, tier1DirName, fileID.String()+".parquet")

	persistTimer := metrics.StartTimer(e.metrics, metrics.OpBlockPersist)
	w := coldfile.NewWriter(path, e.codecCfg, e.cfg.Bloom.NDV, e.cfg.Bloom.FPP)
	w.Add(coldfile.RecordBatch{Rows: rows})
	if err := w.Close(); err != nil {
		persistTimer.Stop()
		return fmt.Errorf("storage: write cold file: %w", err)
	}
	persistTimer.Stop()

	if _, err := e.cat.GetFileMeta(path); err != nil {
		level.Warn(e.logger).Log("msg", "failed to warm catalog for new cold file", "path", path, "err", err)
	}

	e.coldMu.Lock()
	e.coldFiles = append(e.coldFiles, path)
	e.coldMu.Unlock()

	e.removeSealedBlock(blk)
	if err := os.Remove(e.blockFilePath(blk)); err != nil && !os.IsNotExist(err) {
		level.Warn(e.logger).Log("msg", "failed to remove persisted block file after flush", "err", err)
	}
	return nil
}

func (e *Engine) removeSealedBlock(blk *block.Block) {
	for {
		old := e.sealedBlocks.Load()
		next := make([]*block.Block, 0, len(*old))
		found := false
		for _, b := range *old {
			if b == blk {
				found = true
				continue
			}
			next = append(next, b)
		}
		if !found {
			return
		}
		if e.sealedBlocks.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Flush seals the current block (if non-empty) and synchronously flushes
// every sealed block to cold storage, per spec §4.M flush().
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.blockMu.Lock()
	blk := e.currentBlock.Load()
	if blk.Count() > 0 {
		e.currentBlock.Store(block.New(e.codecCfg))
	} else {
		blk = nil
	}
	e.blockMu.Unlock()

	if blk != nil && blk.TryBeginRotation() {
		if err := blk.Seal(); err != nil {
			return fmt.Errorf("storage: seal current block: %w", err)
		}
		if err := e.persistSealedBlock(blk); err != nil {
			level.Warn(e.logger).Log("msg", "persist sealed block failed during flush", "err", err)
		}
		for {
			old := e.sealedBlocks.Load()
			next := append(append([]*block.Block{}, *old...), blk)
			if e.sealedBlocks.CompareAndSwap(old, &next) {
				break
			}
		}
	}

	pending := *e.sealedBlocks.Load()
	for _, b := range pending {
		if err := e.flushBlock(b); err != nil {
			return fmt.Errorf("storage: flush block %s: %w", b.ID(), err)
		}
	}
	return nil
}
