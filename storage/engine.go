// Package storage implements the engine orchestrator (spec §4.M): the
// root façade wiring WAL, mutable/sealed blocks, the inverted index, the
// tiered cache, the cold-file catalog, and the background processor into
// the init/write/read/query/label_names/label_values/delete_series/
// compact/flush/close/stats surface named by spec §6. It follows
// friggdb.go's readerWriter shape (one struct, one New constructor,
// logger + config threaded through) adapted from object-store trace
// blobs to label-keyed sample series.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/tsdb-engine/background"
	"github.com/grafana/tsdb-engine/block"
	"github.com/grafana/tsdb-engine/cache"
	"github.com/grafana/tsdb-engine/catalog"
	"github.com/grafana/tsdb-engine/codec"
	"github.com/grafana/tsdb-engine/index"
	"github.com/grafana/tsdb-engine/labelset"
	"github.com/grafana/tsdb-engine/metrics"
	"github.com/grafana/tsdb-engine/objpool"
	"github.com/grafana/tsdb-engine/wal"
)

const (
	walDirName   = "wal"
	blocksDirName = "blocks"
	tier1DirName = "tier1"
	tier2DirName = "tier2"
)

// Engine is the storage engine orchestrator. The zero value is not
// usable; construct with New.
type Engine struct {
	cfg      Config
	logger   log.Logger
	metrics  *metrics.Metrics
	pools    *objpool.Pools
	codecCfg codec.Config

	mu sync.RWMutex // engine-shared lock; acquired before index/block/cache per spec §5's fixed lock order

	w   *wal.WAL
	idx *index.Index
	cat *catalog.Catalog
	c   *cache.Cache
	bg  *background.Processor

	blockMu       sync.Mutex
	currentBlock  atomic.Pointer[block.Block]
	sealedBlocks  atomic.Pointer[[]*block.Block] // copy-on-write, spec §5

	coldMu    sync.Mutex
	coldFiles []string // tier1+tier2 cold file paths, newest-appended last

	nextFileSeq atomic.Uint64

	schedStop chan struct{}
	schedWG   sync.WaitGroup

	closed atomic.Bool
}

// New constructs and initializes an Engine per spec §4.M's init(config):
// creates the data directory, opens and replays the WAL, scans the data
// directory for existing cold files, and starts the background processor
// if enabled.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (*Engine, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.DataDir == "" {
		return nil, newErr(KindInvalidArgument, "data_dir is required")
	}

	for _, sub := range []string{walDirName, blocksDirName, tier1DirName, tier2DirName} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", sub, err)
		}
	}

	m := metrics.New(reg)

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		codecCfg: codec.Config{
			EnableCompression:   cfg.EnableCompression,
			AdaptiveCompression: cfg.Compression.Adaptive,
			SampleSize:          cfg.Compression.SampleSize,
		},
		idx: index.New(m),
		cat: catalog.New(),
		c:   cache.New(cfg.cacheConfig()),
	}

	tsCfg, labelsCfg, samplesCfg := cfg.objectPoolConfig()
	e.pools = objpool.NewPools(tsCfg, labelsCfg, samplesCfg)

	e.currentBlock.Store(block.New(e.codecCfg))
	empty := []*block.Block{}
	e.sealedBlocks.Store(&empty)

	walCfg := wal.DefaultConfig(filepath.Join(cfg.DataDir, walDirName))
	switch cfg.WAL.FsyncPolicy {
	case "per_write":
		walCfg.Fsync = wal.PerWrite
	case "periodic":
		walCfg.Fsync = wal.Periodic
	default:
		walCfg.Fsync = wal.PerBatch
	}
	if cfg.WAL.PeriodicInterval > 0 {
		walCfg.PeriodicInterval = cfg.WAL.PeriodicInterval
	}
	if cfg.WAL.SegmentSize > 0 {
		walCfg.SegmentSize = cfg.WAL.SegmentSize
	}

	walHandle, err := wal.Open(walCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}
	e.w = walHandle

	stats, err := walHandle.Replay(func(ts labelset.TimeSeries) error {
		sid := e.idx.Insert(ts.Labels)
		for _, s := range ts.Samples {
			if err := e.currentBlock.Load().Append(sid, ts.Labels, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: replay wal: %w", err)
	}
	if stats.RecordsSkipped > 0 || stats.TailTruncated {
		level.Warn(logger).Log("msg", "wal replay found damage", "skipped", stats.RecordsSkipped, "tail_truncated", stats.TailTruncated)
	}
	level.Info(logger).Log("msg", "wal replayed", "records", stats.RecordsReplayed)

	if err := e.scanColdFiles(); err != nil {
		return nil, fmt.Errorf("storage: scan cold files: %w", err)
	}

	e.bg = background.New(cfg.Background, logger, reg)

	e.schedStop = make(chan struct{})
	e.startScheduler()

	return e, nil
}

func (e *Engine) scanColdFiles() error {
	for _, tier := range []string{tier1DirName, tier2DirName} {
		dir := filepath.Join(e.cfg.DataDir, tier)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() || filepath.Ext(ent.Name()) != ".parquet" {
				continue
			}
			e.coldFiles = append(e.coldFiles, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Strings(e.coldFiles)
	return nil
}

// Write appends one TimeSeries' samples through the WAL, the current
// mutable block, and the cache, rotating the block first if needed
// (spec §4.M write()).
func (e *Engine) Write(ts labelset.TimeSeries) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(ts.Labels) == 0 {
		return newErr(KindInvalidArgument, "write requires non-empty labels")
	}

	timer := metrics.StartTimer(e.metrics, metrics.OpWrite)
	defer timer.Stop()

	e.mu.RLock()
	defer e.mu.RUnlock()

	idTimer := metrics.StartTimer(e.metrics, metrics.OpSeriesIDCalc)
	sid := e.idx.Insert(ts.Labels)
	idTimer.Stop()

	walTimer := metrics.StartTimer(e.metrics, metrics.OpWALAppend)
	if err := e.w.Append(ts); err != nil {
		walTimer.Stop()
		return fmt.Errorf("storage: wal append: %w", err)
	}
	walTimer.Stop()

	blk := e.currentBlock.Load()
	appendTimer := metrics.StartTimer(e.metrics, metrics.OpSampleAppend)
	for _, s := range ts.Samples {
		if err := blk.Append(sid, ts.Labels, s); err != nil {
			appendTimer.Stop()
			return fmt.Errorf("storage: block append: %w", err)
		}
	}
	appendTimer.Stop()

	if e.shouldRotate(blk) {
		e.rotate(blk)
	}

	cacheTimer := metrics.StartTimer(e.metrics, metrics.OpCacheUpdate)
	// A write invalidates any cached cold-tier view for this series rather
	// than splicing the fragment in: the next Get rebuilds a correct merged
	// view through the loader (cheaper than merging on every write, and the
	// cache is a read-through accelerator, not the system of record).
	e.c.Invalidate(sid)
	cacheTimer.Stop()

	return nil
}

func (e *Engine) shouldRotate(blk *block.Block) bool {
	if blk.Count() >= e.cfg.BlockSize {
		return true
	}
	if e.cfg.BlockDurationMs > 0 && blk.Age() >= time.Duration(e.cfg.BlockDurationMs)*time.Millisecond {
		return true
	}
	return false
}

// rotate seals blk (if it won the rotation CAS), publishes a fresh
// mutable block, moves blk onto the sealed-blocks list via copy-on-write
// swap, and enqueues a background Flush task.
func (e *Engine) rotate(blk *block.Block) {
	if !blk.TryBeginRotation() {
		return // another writer already started rotating this block
	}

	e.blockMu.Lock()
	if e.currentBlock.Load() != blk {
		e.blockMu.Unlock()
		return
	}
	e.currentBlock.Store(block.New(e.codecCfg))
	e.blockMu.Unlock()

	sealTimer := metrics.StartTimer(e.metrics, metrics.OpBlockSeal)
	if err := blk.Seal(); err != nil {
		sealTimer.Stop()
		level.Error(e.logger).Log("msg", "block seal failed", "err", err)
		return
	}
	sealTimer.Stop()

	if err := e.persistSealedBlock(blk); err != nil {
		level.Error(e.logger).Log("msg", "persisting sealed block failed, continuing in-memory only", "err", err)
	}

	for {
		old := e.sealedBlocks.Load()
		next := append(append([]*block.Block{}, *old...), blk)
		if e.sealedBlocks.CompareAndSwap(old, &next) {
			break
		}
	}

	e.bg.Submit(background.Task{
		Kind:  background.KindFlush,
		Label: blk.ID().String(),
		Fn: func(ctx context.Context) error {
			return e.flushBlock(blk)
		},
	})
}
