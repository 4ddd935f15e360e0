// Package objpool implements the three reusable object pools named by
// spec §4.B: TimeSeries, Labels, and Sample-vector buffers. Pooling is
// best-effort — exhaustion falls back to direct allocation rather than
// blocking or erroring, matching the spec's "failure mode: never".
package objpool

import (
	"sync"

	"go.uber.org/atomic"
)

// Config bounds one pool's free list.
type Config struct {
	InitialSize int
	MaxSize     int
}

// Stats exposes the (created, acquired, released) counters the stats
// endpoint surfaces per pool.
type Stats struct {
	Created  uint64
	Acquired uint64
	Released uint64
	InUse    uint64
}

// Resettable is implemented by every pooled value so Release can clear it
// before returning it to the free list.
type Resettable interface {
	Reset()
}

// Pool is a thread-safe, bounded free list for any Resettable type T.
// It is the single implementation behind TimeSeriesPool, LabelsPool, and
// SamplePool — the spec names three pools with identical contracts, so
// one generic type backs all three rather than copy-pasted code.
type Pool[T Resettable] struct {
	cfg     Config
	newFn   func() T
	mu      sync.Mutex
	free    []T
	created atomic.Uint64
	acquired atomic.Uint64
	released atomic.Uint64
}

// New creates a Pool, pre-populating its free list to cfg.InitialSize
// using newFn.
func New[T Resettable](cfg Config, newFn func() T) *Pool[T] {
	p := &Pool[T]{cfg: cfg, newFn: newFn}
	for i := 0; i < cfg.InitialSize; i++ {
		p.free = append(p.free, newFn())
		p.created.Add(1)
	}
	return p
}

// Acquire returns a value from the free list, or a freshly allocated one
// if the pool is empty.
func (p *Pool[T]) Acquire() T {
	p.acquired.Add(1)
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		p.created.Add(1)
		return p.newFn()
	}
	v := p.free[n-1]
	var zero T
	p.free[n-1] = zero
	p.free = p.free[:n-1]
	p.mu.Unlock()
	return v
}

// Release clears v and returns it to the free list, unless the pool is
// already at cfg.MaxSize, in which case v is dropped.
func (p *Pool[T]) Release(v T) {
	v.Reset()
	p.released.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.MaxSize > 0 && len(p.free) >= p.cfg.MaxSize {
		return
	}
	p.free = append(p.free, v)
}

// Stats returns a snapshot of this pool's counters.
func (p *Pool[T]) Stats() Stats {
	acquired := p.acquired.Load()
	released := p.released.Load()
	return Stats{
		Created:  p.created.Load(),
		Acquired: acquired,
		Released: released,
		InUse:    acquired - released,
	}
}
