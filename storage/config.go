package storage

import (
	"time"

	"github.com/grafana/tsdb-engine/background"
	"github.com/grafana/tsdb-engine/cache"
	"github.com/grafana/tsdb-engine/coldfile"
	"github.com/grafana/tsdb-engine/objpool"
)

// CompressionConfig carries the per-column algorithm choices and the
// adaptive-sampling toggle spec §6 names under "compression.*".
type CompressionConfig struct {
	TimestampAlgorithm string `yaml:"timestamp_algorithm"` // DELTA_XOR (delta-of-delta), GORILLA
	ValueAlgorithm     string `yaml:"value_algorithm"`     // GORILLA, RLE
	LabelAlgorithm     string `yaml:"label_algorithm"`     // DICTIONARY
	Adaptive           bool   `yaml:"adaptive"`
	SampleSize         int    `yaml:"sample_size"`
}

// ObjectPoolConfig sizes the three pools named by spec §4.B, one
// InitialSize/MaxSize pair per pool.
type ObjectPoolConfig struct {
	TimeSeriesInitialSize int `yaml:"time_series_initial_size"`
	TimeSeriesMaxSize     int `yaml:"time_series_max_size"`
	LabelsInitialSize     int `yaml:"labels_initial_size"`
	LabelsMaxSize         int `yaml:"labels_max_size"`
	SamplesInitialSize    int `yaml:"samples_initial_size"`
	SamplesMaxSize        int `yaml:"samples_max_size"`
}

// WALConfig follows spec §6's wal.fsync_policy option.
type WALConfig struct {
	FsyncPolicy      string        `yaml:"fsync_policy"` // per_write | per_batch | periodic
	PeriodicInterval time.Duration `yaml:"periodic_interval"`
	SegmentSize      int64         `yaml:"segment_size"`
}

// BloomConfig carries the bloom filter sizing defaults spec §6 names.
type BloomConfig struct {
	NDV uint32  `yaml:"ndv"`
	FPP float64 `yaml:"fpp"`
}

// Config is the engine's full configuration tree, following
// friggdb.Config's per-subsystem struct composition pattern.
type Config struct {
	DataDir            string `yaml:"data_dir"`
	BlockSize          int    `yaml:"block_size"`
	BlockDurationMs     int64  `yaml:"block_duration_ms"`
	MaxBlocksPerSeries int    `yaml:"max_blocks_per_series"`
	CacheSizeBytes     int64  `yaml:"cache_size_bytes"`
	RetentionPeriodMs  int64  `yaml:"retention_period_ms"`
	EnableCompression  bool   `yaml:"enable_compression"`

	Compression CompressionConfig  `yaml:"compression"`
	ObjectPool  ObjectPoolConfig   `yaml:"object_pool"`
	WAL         WALConfig          `yaml:"wal"`
	Bloom       BloomConfig        `yaml:"bloom"`
	Background  background.Config `yaml:"background"`

	MinFilesToCompact int `yaml:"min_files_to_compact"`
}

// DefaultConfig returns a Config with every subsystem at the defaults
// named throughout spec §6, rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		BlockSize:          120,
		BlockDurationMs:    10 * 60 * 1000,
		MaxBlocksPerSeries: 4,
		CacheSizeBytes:     64 << 20,
		RetentionPeriodMs:  7 * 24 * 3600 * 1000,
		EnableCompression:  true,

		Compression: CompressionConfig{
			TimestampAlgorithm: "DELTA_XOR",
			ValueAlgorithm:     "GORILLA",
			LabelAlgorithm:     "DICTIONARY",
			Adaptive:           true,
			SampleSize:         64,
		},
		ObjectPool: ObjectPoolConfig{
			TimeSeriesInitialSize: 16, TimeSeriesMaxSize: 1024,
			LabelsInitialSize: 16, LabelsMaxSize: 1024,
			SamplesInitialSize: 16, SamplesMaxSize: 1024,
		},
		WAL: WALConfig{
			FsyncPolicy:      "per_batch",
			PeriodicInterval: time.Second,
			SegmentSize:      64 << 20,
		},
		Bloom: BloomConfig{NDV: coldfile.DefaultNDV, FPP: coldfile.DefaultFPP},

		Background: background.DefaultConfig(),

		MinFilesToCompact: 5,
	}
}

func (c Config) cacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if c.CacheSizeBytes > 0 {
		// The spec's cache_size_bytes is a byte budget; the cache package's
		// bound is entry-count based, so approximate an entry count assuming
		// a modest per-series working set (series are decompressed TimeSeries
		// in L1/L2, not fixed-size records).
		const approxBytesPerSeries = 4096
		entries := int(c.CacheSizeBytes / approxBytesPerSeries)
		if entries > 0 {
			cfg.L1Capacity = entries
			cfg.L2Capacity = entries * 10
		}
	}
	return cfg
}

func (c Config) objectPoolConfig() (ts, labels, samples objpool.Config) {
	ts = objpool.Config{InitialSize: c.ObjectPool.TimeSeriesInitialSize, MaxSize: c.ObjectPool.TimeSeriesMaxSize}
	labels = objpool.Config{InitialSize: c.ObjectPool.LabelsInitialSize, MaxSize: c.ObjectPool.LabelsMaxSize}
	samples = objpool.Config{InitialSize: c.ObjectPool.SamplesInitialSize, MaxSize: c.ObjectPool.SamplesMaxSize}
	return
}
