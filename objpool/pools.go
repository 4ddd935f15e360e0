package objpool

import "github.com/grafana/tsdb-engine/labelset"

// timeSeriesBox satisfies Resettable for *labelset.TimeSeries.
type timeSeriesBox struct{ *labelset.TimeSeries }

func (b timeSeriesBox) Reset() { b.TimeSeries.Reset() }

// TimeSeriesPool recycles *labelset.TimeSeries values.
type TimeSeriesPool struct{ inner *Pool[timeSeriesBox] }

func NewTimeSeriesPool(cfg Config) *TimeSeriesPool {
	return &TimeSeriesPool{inner: New(cfg, func() timeSeriesBox {
		return timeSeriesBox{&labelset.TimeSeries{}}
	})}
}

func (p *TimeSeriesPool) Acquire() *labelset.TimeSeries { return p.inner.Acquire().TimeSeries }
func (p *TimeSeriesPool) Release(ts *labelset.TimeSeries) {
	if ts == nil {
		return
	}
	p.inner.Release(timeSeriesBox{ts})
}
func (p *TimeSeriesPool) Stats() Stats { return p.inner.Stats() }

// labelsBox is a resettable slice-backed Labels buffer.
type labelsBox struct{ ls *labelset.Labels }

func (b labelsBox) Reset() { *b.ls = (*b.ls)[:0] }

// LabelsPool recycles labelset.Labels backing arrays.
type LabelsPool struct{ inner *Pool[labelsBox] }

func NewLabelsPool(cfg Config) *LabelsPool {
	return &LabelsPool{inner: New(cfg, func() labelsBox {
		ls := make(labelset.Labels, 0, 8)
		return labelsBox{&ls}
	})}
}

func (p *LabelsPool) Acquire() *labelset.Labels { return p.inner.Acquire().ls }
func (p *LabelsPool) Release(ls *labelset.Labels) {
	if ls == nil {
		return
	}
	p.inner.Release(labelsBox{ls})
}
func (p *LabelsPool) Stats() Stats { return p.inner.Stats() }

// SampleBuf is a reusable []labelset.Sample buffer.
type SampleBuf struct{ Samples []labelset.Sample }

func (b *SampleBuf) Reset() { b.Samples = b.Samples[:0] }

// SamplePool recycles SampleBuf values (the "Sample-vector" pool in the
// spec's §4.B list).
type SamplePool struct{ inner *Pool[*SampleBuf] }

func NewSamplePool(cfg Config) *SamplePool {
	return &SamplePool{inner: New(cfg, func() *SampleBuf {
		return &SampleBuf{Samples: make([]labelset.Sample, 0, 64)}
	})}
}

func (p *SamplePool) Acquire() *SampleBuf   { return p.inner.Acquire() }
func (p *SamplePool) Release(b *SampleBuf)  { p.inner.Release(b) }
func (p *SamplePool) Stats() Stats          { return p.inner.Stats() }

// Pools bundles the three pools the engine constructs at init time.
type Pools struct {
	TimeSeries *TimeSeriesPool
	Labels     *LabelsPool
	Samples    *SamplePool
}

// NewPools builds the standard trio from per-pool configs.
func NewPools(tsCfg, labelsCfg, samplesCfg Config) *Pools {
	return &Pools{
		TimeSeries: NewTimeSeriesPool(tsCfg),
		Labels:     NewLabelsPool(labelsCfg),
		Samples:    NewSamplePool(samplesCfg),
	}
}
