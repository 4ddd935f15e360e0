package objpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/tsdb-engine/labelset"
)

func TestTimeSeriesPoolAcquireRelease(t *testing.T) {
	p := NewTimeSeriesPool(Config{InitialSize: 2, MaxSize: 4})
	require.EqualValues(t, 2, p.Stats().Created)

	ts := p.Acquire()
	ts.Labels = labelset.FromMap(map[string]string{"a": "1"})
	p.Release(ts)

	again := p.Acquire()
	require.Empty(t, again.Labels, "released series must be cleared before reuse")
}

func TestPoolExhaustionFallsBackToAllocation(t *testing.T) {
	p := NewTimeSeriesPool(Config{InitialSize: 0, MaxSize: 1})
	a := p.Acquire()
	b := p.Acquire()
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.EqualValues(t, 2, p.Stats().Created)
}

func TestPoolMaxSizeDropsExcess(t *testing.T) {
	p := NewTimeSeriesPool(Config{InitialSize: 0, MaxSize: 1})
	a, b := p.Acquire(), p.Acquire()
	p.Release(a)
	p.Release(b)
	require.LessOrEqual(t, len(p.inner.free), 1)
}

func TestPoolConcurrentUse(t *testing.T) {
	p := NewSamplePool(Config{InitialSize: 4, MaxSize: 16})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := p.Acquire()
			buf.Samples = append(buf.Samples, labelset.Sample{Timestamp: 1})
			p.Release(buf)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 32, p.Stats().Acquired)
	require.EqualValues(t, 32, p.Stats().Released)
}
