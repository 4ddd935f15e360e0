package metrics

import "github.com/prometheus/client_golang/prometheus"

// collector adapts a *Metrics snapshot to prometheus.Collector, the same
// "storage_engine" namespace friggdb.go registers its blocklist counters
// under, but built from a live snapshot on every scrape instead of
// package-level promauto singletons — each Engine owns one.
type collector struct {
	m *Metrics

	writeCount  *prometheus.Desc
	writeBytes  *prometheus.Desc
	readCount   *prometheus.Desc
	readBytes   *prometheus.Desc
	cacheHitRat *prometheus.Desc
	bloomSkips  *prometheus.Desc
	rowGroupsRd *prometheus.Desc
	compression *prometheus.Desc
}

func newCollector(m *Metrics) *collector {
	const ns = "storage_engine"
	return &collector{
		m:           m,
		writeCount:  prometheus.NewDesc(ns+"_writes_total", "Total accepted writes.", nil, nil),
		writeBytes:  prometheus.NewDesc(ns+"_write_bytes_total", "Total bytes written.", nil, nil),
		readCount:   prometheus.NewDesc(ns+"_reads_total", "Total reads served.", nil, nil),
		readBytes:   prometheus.NewDesc(ns+"_read_bytes_total", "Total bytes read.", nil, nil),
		cacheHitRat: prometheus.NewDesc(ns+"_cache_hit_ratio", "Overall cache hit ratio.", nil, nil),
		bloomSkips:  prometheus.NewDesc(ns+"_bloom_skips_total", "Cold files skipped via bloom filter.", nil, nil),
		rowGroupsRd: prometheus.NewDesc(ns+"_row_groups_read_total", "Row groups read after pruning.", nil, nil),
		compression: prometheus.NewDesc(ns+"_compression_ratio", "Average compressed/uncompressed byte ratio.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writeCount
	ch <- c.writeBytes
	ch <- c.readCount
	ch <- c.readBytes
	ch <- c.cacheHitRat
	ch <- c.bloomSkips
	ch <- c.rowGroupsRd
	ch <- c.compression
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.writeCount, prometheus.CounterValue, float64(s.WriteCount))
	ch <- prometheus.MustNewConstMetric(c.writeBytes, prometheus.CounterValue, float64(s.WriteBytes))
	ch <- prometheus.MustNewConstMetric(c.readCount, prometheus.CounterValue, float64(s.ReadCount))
	ch <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(s.ReadBytes))
	ch <- prometheus.MustNewConstMetric(c.cacheHitRat, prometheus.GaugeValue, s.CacheHitRatio)
	ch <- prometheus.MustNewConstMetric(c.bloomSkips, prometheus.CounterValue, float64(s.BloomSkips))
	ch <- prometheus.MustNewConstMetric(c.rowGroupsRd, prometheus.CounterValue, float64(s.RowGroupsRead))
	ch <- prometheus.MustNewConstMetric(c.compression, prometheus.GaugeValue, s.CompressionRatio)
}
