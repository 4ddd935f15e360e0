// Package catalog maintains the engine's in-memory view of cold files on
// disk: per-file row-group statistics built lazily on first access, plus
// the bloom filter and secondary index each file carries (spec §4.L).
package catalog

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/grafana/tsdb-engine/coldfile"
)

// FileMeta summarizes one cold file without requiring its row groups to be
// re-read on every query.
type FileMeta struct {
	Path      string
	MinTS     int64
	MaxTS     int64
	RowGroups []coldfile.RowGroupStats
	FileSize  int64
}

// Catalog is a read-through cache of FileMeta, bloom filters, and
// secondary indexes keyed by file path. A single in-flight build is
// shared across concurrent callers for the same path via singleflight,
// per spec §5's read-through construction requirement.
type Catalog struct {
	group singleflight.Group

	mu        sync.RWMutex
	meta      map[string]*FileMeta
	readers   map[string]*coldfile.Reader
	blooms    map[string]*coldfile.BloomFilter
	secondary map[string]*coldfile.SecondaryIndex
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		meta:      make(map[string]*FileMeta),
		readers:   make(map[string]*coldfile.Reader),
		blooms:    make(map[string]*coldfile.BloomFilter),
		secondary: make(map[string]*coldfile.SecondaryIndex),
	}
}

// GetFileMeta returns path's cached FileMeta, building it by opening the
// file and scanning its row groups on first access.
func (c *Catalog) GetFileMeta(path string) (*FileMeta, error) {
	c.mu.RLock()
	if m, ok := c.meta[path]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		return c.buildFileMeta(path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FileMeta), nil
}

func (c *Catalog) buildFileMeta(path string) (*FileMeta, error) {
	c.mu.RLock()
	if m, ok := c.meta[path]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	r, err := coldfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	m := &FileMeta{Path: path, MinTS: int64(^uint64(0) >> 1), MaxTS: -int64(^uint64(0)>>1) - 1}
	for i := 0; i < r.NumRowGroups(); i++ {
		stats := r.RowGroupStats(i)
		m.RowGroups = append(m.RowGroups, stats)
		if stats.MinTS < m.MinTS {
			m.MinTS = stats.MinTS
		}
		if stats.MaxTS > m.MaxTS {
			m.MaxTS = stats.MaxTS
		}
		m.FileSize += stats.TotalByteSize
	}

	c.mu.Lock()
	c.meta[path] = m
	c.readers[path] = r
	c.mu.Unlock()

	return m, nil
}

// Bloom returns path's bloom filter, loading it from the sidecar on first
// access and caching it thereafter.
func (c *Catalog) Bloom(path string) (*coldfile.BloomFilter, error) {
	c.mu.RLock()
	if bf, ok := c.blooms[path]; ok {
		c.mu.RUnlock()
		return bf, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("bloom:"+path, func() (interface{}, error) {
		if _, err := c.GetFileMeta(path); err != nil {
			return nil, err
		}
		c.mu.RLock()
		r := c.readers[path]
		c.mu.RUnlock()
		return r.OpenBloom()
	})
	if err != nil {
		return nil, err
	}
	bf := v.(*coldfile.BloomFilter)

	c.mu.Lock()
	c.blooms[path] = bf
	c.mu.Unlock()
	return bf, nil
}

// SecondaryIndex returns path's secondary index, loading it from the
// sidecar on first access and caching it thereafter.
func (c *Catalog) SecondaryIndex(path string) (*coldfile.SecondaryIndex, error) {
	c.mu.RLock()
	if si, ok := c.secondary[path]; ok {
		c.mu.RUnlock()
		return si, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("idx:"+path, func() (interface{}, error) {
		if _, err := c.GetFileMeta(path); err != nil {
			return nil, err
		}
		c.mu.RLock()
		r := c.readers[path]
		c.mu.RUnlock()
		return r.OpenSecondaryIndex()
	})
	if err != nil {
		return nil, err
	}
	si := v.(*coldfile.SecondaryIndex)

	c.mu.Lock()
	c.secondary[path] = si
	c.mu.Unlock()
	return si, nil
}

// Reader returns path's opened coldfile.Reader, building its FileMeta
// first if this is the first access.
func (c *Catalog) Reader(path string) (*coldfile.Reader, error) {
	if _, err := c.GetFileMeta(path); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readers[path], nil
}

// Evict drops path's cached FileMeta, bloom filter, and secondary index,
// forcing the next access to rebuild from disk. Called by compaction when
// it replaces a set of files with a new one (spec §5).
func (c *Catalog) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, path)
	delete(c.readers, path)
	delete(c.blooms, path)
	delete(c.secondary, path)
}

// Paths returns every path currently tracked by the catalog.
func (c *Catalog) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.meta))
	for p := range c.meta {
		out = append(out, p)
	}
	return out
}

// Register seeds the catalog with a freshly-written file's FileMeta
// without a redundant re-open, used by the flush/compaction path right
// after coldfile.Writer.Close.
func (c *Catalog) Register(path string, m *FileMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[path] = m
}
