// Package cache implements the engine's three-level working-set cache
// (spec §4.H): a small L1 LRU of decoded TimeSeries, a larger L2 tier, and
// an implicit L3 that is simply the cold files themselves, served by the
// caller's read-through loader. Promotion is driven by a per-series access
// counter; demotion is time-based and runs on a background sweep.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/grafana/tsdb-engine/labelset"
)

// Config tunes capacity, enablement, and the promotion/demotion
// thresholds named by spec §4.H.
type Config struct {
	L1Capacity int
	L2Capacity int
	L2Enabled  bool

	L1IdleTimeout time.Duration
	L2IdleTimeout time.Duration

	PromoteL3ToL2Threshold uint64
	PromoteL2ToL1Threshold uint64
}

// DefaultConfig matches the thresholds spec §4.H states literally.
func DefaultConfig() Config {
	return Config{
		L1Capacity:             10000,
		L2Capacity:             100000,
		L2Enabled:              true,
		L1IdleTimeout:          5 * time.Minute,
		L2IdleTimeout:          time.Hour,
		PromoteL3ToL2Threshold: 2,
		PromoteL2ToL1Threshold: 5,
	}
}

type entry struct {
	sid        labelset.SeriesID
	ts         labelset.TimeSeries
	lastAccess atomic.Int64 // unix nanos
}

// tier is one bounded LRU level (L1 or L2).
type tier struct {
	mu       sync.Mutex
	capacity int
	index    map[labelset.SeriesID]*list.Element
	order    *list.List // front = most recently used
}

func newTier(capacity int) *tier {
	return &tier{capacity: capacity, index: make(map[labelset.SeriesID]*list.Element), order: list.New()}
}

func (t *tier) get(sid labelset.SeriesID) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.index[sid]
	if !ok {
		return nil, false
	}
	t.order.MoveToFront(el)
	return el.Value.(*entry), true
}

// put inserts or refreshes sid, evicting the LRU entry if at capacity.
// Returns the evicted entry, if any.
func (t *tier) put(e *entry) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.index[e.sid]; ok {
		el.Value = e
		t.order.MoveToFront(el)
		return nil
	}

	el := t.order.PushFront(e)
	t.index[e.sid] = el

	if t.capacity > 0 && t.order.Len() > t.capacity {
		back := t.order.Back()
		if back != nil {
			t.order.Remove(back)
			evicted := back.Value.(*entry)
			delete(t.index, evicted.sid)
			return evicted
		}
	}
	return nil
}

func (t *tier) remove(sid labelset.SeriesID) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.index[sid]
	if !ok {
		return nil, false
	}
	t.order.Remove(el)
	delete(t.index, sid)
	return el.Value.(*entry), true
}

func (t *tier) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// evictIdle returns every entry whose lastAccess predates cutoff,
// removing them from the tier.
func (t *tier) evictIdle(cutoff int64) []*entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []*entry
	for el := t.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.lastAccess.Load() < cutoff {
			t.order.Remove(el)
			delete(t.index, e.sid)
			evicted = append(evicted, e)
		}
		el = prev
	}
	return evicted
}

// Stats is a point-in-time snapshot of cache counters for the stats
// endpoint (spec §6).
type Stats struct {
	L1Hits, L2Hits, L3Hits   uint64
	L1Size, L2Size           int
	PromotionsL3ToL2         uint64
	PromotionsL2ToL1         uint64
	DemotionsL1ToL2          uint64
	DemotionsL2ToL3          uint64
	HitRatio                 float64
}

// Cache is the engine's three-level working set.
type Cache struct {
	cfg Config

	l1 *tier
	l2 *tier

	accessCounts sync.Map // labelset.SeriesID -> *atomic.Uint64

	hitsL1, hitsL2, hitsL3     atomic.Uint64
	misses                     atomic.Uint64
	promoteL3L2, promoteL2L1   atomic.Uint64
	demoteL1L2, demoteL2L3     atomic.Uint64
}

// New constructs a Cache. L2 is allocated regardless of Config.L2Enabled
// so toggling it at runtime is cheap; when disabled, Get never consults
// it and demotions from L1 drop straight through instead.
func New(cfg Config) *Cache {
	return &Cache{
		cfg: cfg,
		l1:  newTier(cfg.L1Capacity),
		l2:  newTier(cfg.L2Capacity),
	}
}

func (c *Cache) counterFor(sid labelset.SeriesID) *atomic.Uint64 {
	v, _ := c.accessCounts.LoadOrStore(sid, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// Get resolves sid through L1, then L2, then loader (the cold-tier read
// path, i.e. L3). It updates the per-series access counter and performs
// any promotion the counter now qualifies for.
func (c *Cache) Get(sid labelset.SeriesID, loader func() (labelset.TimeSeries, bool)) (labelset.TimeSeries, bool) {
	count := c.counterFor(sid).Add(1)
	now := time.Now().UnixNano()

	if e, ok := c.l1.get(sid); ok {
		e.lastAccess.Store(now)
		c.hitsL1.Add(1)
		return e.ts, true
	}

	if c.cfg.L2Enabled {
		if e, ok := c.l2.get(sid); ok {
			e.lastAccess.Store(now)
			c.hitsL2.Add(1)
			if count >= c.cfg.PromoteL2ToL1Threshold {
				c.l2.remove(sid)
				c.insertL1(sid, e.ts, now)
				c.promoteL2L1.Add(1)
			}
			return e.ts, true
		}
	}

	ts, ok := loader()
	if !ok {
		c.misses.Add(1)
		return labelset.TimeSeries{}, false
	}
	c.hitsL3.Add(1)

	switch {
	case count >= c.cfg.PromoteL2ToL1Threshold && !c.cfg.L2Enabled:
		c.insertL1(sid, ts, now)
		c.promoteL3L2.Add(1)
	case count >= c.cfg.PromoteL3ToL2Threshold && c.cfg.L2Enabled:
		c.insertL2(sid, ts, now)
		c.promoteL3L2.Add(1)
	}
	return ts, true
}

// Put inserts ts directly into L1. The engine's write path does not call
// it: Engine.Write invalidates the series' cached entry instead.
func (c *Cache) Put(sid labelset.SeriesID, ts labelset.TimeSeries) {
	c.insertL1(sid, ts, time.Now().UnixNano())
}

func (c *Cache) insertL1(sid labelset.SeriesID, ts labelset.TimeSeries, now int64) {
	e := &entry{sid: sid, ts: ts}
	e.lastAccess.Store(now)
	if evicted := c.l1.put(e); evicted != nil {
		if c.cfg.L2Enabled {
			c.insertL2(evicted.sid, evicted.ts, evicted.lastAccess.Load())
		}
	}
}

func (c *Cache) insertL2(sid labelset.SeriesID, ts labelset.TimeSeries, now int64) {
	if !c.cfg.L2Enabled {
		return
	}
	e := &entry{sid: sid, ts: ts}
	e.lastAccess.Store(now)
	c.l2.put(e)
}

// Invalidate drops sid from every level, used by delete_series and by
// every write.
func (c *Cache) Invalidate(sid labelset.SeriesID) {
	c.l1.remove(sid)
	c.l2.remove(sid)
	c.accessCounts.Delete(sid)
}

// DemoteSweep performs the time-based demotion pass spec §4.H assigns to
// the background processor: L1 entries idle past L1IdleTimeout drop to
// L2 (or are evicted outright if L2 is disabled); L2 entries idle past
// L2IdleTimeout are evicted (falling back to L3, the cold files).
func (c *Cache) DemoteSweep(now time.Time) {
	l1Cutoff := now.Add(-c.cfg.L1IdleTimeout).UnixNano()
	for _, e := range c.l1.evictIdle(l1Cutoff) {
		c.demoteL1L2.Add(1)
		if c.cfg.L2Enabled {
			c.insertL2(e.sid, e.ts, e.lastAccess.Load())
		}
	}

	if !c.cfg.L2Enabled {
		return
	}
	l2Cutoff := now.Add(-c.cfg.L2IdleTimeout).UnixNano()
	for range c.l2.evictIdle(l2Cutoff) {
		c.demoteL2L3.Add(1)
	}
}

// Snapshot returns a point-in-time view of cache counters.
func (c *Cache) Snapshot() Stats {
	hits := c.hitsL1.Load() + c.hitsL2.Load() + c.hitsL3.Load()
	total := hits + c.misses.Load()
	var ratio float64
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return Stats{
		L1Hits:           c.hitsL1.Load(),
		L2Hits:           c.hitsL2.Load(),
		L3Hits:           c.hitsL3.Load(),
		L1Size:           c.l1.size(),
		L2Size:           c.l2.size(),
		PromotionsL3ToL2: c.promoteL3L2.Load(),
		PromotionsL2ToL1: c.promoteL2L1.Load(),
		DemotionsL1ToL2:  c.demoteL1L2.Load(),
		DemotionsL2ToL3:  c.demoteL2L3.Load(),
		HitRatio:         ratio,
	}
}
