package storage

import (
	"context"
	"os"
	"time"

	"github.com/go-kit/log/level"

	"github.com/grafana/tsdb-engine/background"
)

// Default periods for the background tasks spec §4.N assigns beyond
// Flush, which rotate() submits directly as each block seals.
const (
	cacheMaintenanceInterval  = 30 * time.Second
	retentionInterval         = 5 * time.Minute
	autoCompactionInterval    = time.Minute
	metricsCollectionInterval = 15 * time.Second
)

// startScheduler launches one ticking goroutine per periodic task kind
// the background processor is configured to run: cache demotion sweeps
// and retention gate on background.enable_auto_cleanup, auto-compaction
// gates on background.enable_auto_compaction, and metrics collection on
// background.enable_metrics_collection (spec §6). Each tick submits a
// background.Task through the same priority queue Flush uses, rather than
// running the work inline, so it is subject to the same worker pool and
// shutdown draining.
func (e *Engine) startScheduler() {
	if !e.cfg.Background.Enable {
		return
	}

	if e.cfg.Background.EnableAutoCleanup {
		e.schedWG.Add(1)
		go e.runPeriodic(cacheMaintenanceInterval, background.KindCacheMaintenance, "cache-sweep", func(context.Context) error {
			e.c.DemoteSweep(time.Now())
			return nil
		})

		e.schedWG.Add(1)
		go e.runPeriodic(retentionInterval, background.KindRetention, "retention", e.runRetention)
	}

	if e.cfg.Background.EnableAutoCompaction {
		e.schedWG.Add(1)
		go e.runPeriodic(autoCompactionInterval, background.KindCompaction, "auto-compaction", func(context.Context) error {
			return e.Compact()
		})
	}

	if e.cfg.Background.EnableMetricsCollection {
		e.schedWG.Add(1)
		go e.runPeriodic(metricsCollectionInterval, background.KindMetricsCollection, "metrics-collection", func(context.Context) error {
			// Reads every counter into a Snapshot and discards it; this
			// task stores and exports nothing itself.
			e.metrics.Snapshot()
			return nil
		})
	}
}

// runPeriodic submits a background.Task of kind/label/fn every interval
// until the engine's schedStop channel closes.
func (e *Engine) runPeriodic(interval time.Duration, kind background.Kind, label string, fn func(ctx context.Context) error) {
	defer e.schedWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.bg.Submit(background.Task{Kind: kind, Label: label, Fn: fn})
		case <-e.schedStop:
			return
		}
	}
}

// runRetention drops cold files whose persisted max_ts is older than
// cfg.RetentionPeriodMs (spec §4.N Retention task). RetentionPeriodMs<=0
// disables retention entirely.
func (e *Engine) runRetention(ctx context.Context) error {
	if e.cfg.RetentionPeriodMs <= 0 {
		return nil
	}
	cutoff := time.Now().UnixMilli() - e.cfg.RetentionPeriodMs

	e.coldMu.Lock()
	paths := append([]string(nil), e.coldFiles...)
	e.coldMu.Unlock()

	var expired []string
	for _, p := range paths {
		meta, err := e.cat.GetFileMeta(p)
		if err != nil {
			level.Warn(e.logger).Log("msg", "retention: failed to read file meta, skipping", "path", p, "err", err)
			continue
		}
		if meta.MaxTS < cutoff {
			expired = append(expired, p)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	expiredSet := make(map[string]struct{}, len(expired))
	for _, p := range expired {
		expiredSet[p] = struct{}{}
	}

	e.coldMu.Lock()
	next := make([]string, 0, len(e.coldFiles))
	for _, p := range e.coldFiles {
		if _, drop := expiredSet[p]; drop {
			continue
		}
		next = append(next, p)
	}
	e.coldFiles = next
	e.coldMu.Unlock()

	for _, p := range expired {
		e.cat.Evict(p)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			level.Warn(e.logger).Log("msg", "retention: failed to remove expired file", "path", p, "err", err)
		}
		for _, ext := range []string{".bloom", ".idx"} {
			os.Remove(p + ext)
		}
	}
	level.Info(e.logger).Log("msg", "retention evicted expired cold files", "count", len(expired))
	return nil
}
