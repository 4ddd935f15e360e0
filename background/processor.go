// Package background implements the task queue and worker pool that runs
// Flush, Compaction, Retention, CacheMaintenance, and MetricsCollection
// off the write/read path (spec §4.N). It follows the teacher's
// friggdb/pool worker-channel shape, adapted for prioritized task kinds
// instead of one undifferentiated job queue.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind identifies the category of work a Task performs.
type Kind int

const (
	KindFlush Kind = iota
	KindCompaction
	KindRetention
	KindCacheMaintenance
	KindMetricsCollection
)

func (k Kind) String() string {
	switch k {
	case KindFlush:
		return "flush"
	case KindCompaction:
		return "compaction"
	case KindRetention:
		return "retention"
	case KindCacheMaintenance:
		return "cache_maintenance"
	case KindMetricsCollection:
		return "metrics_collection"
	default:
		return "unknown"
	}
}

// Task is one unit of background work. Fn is run by a worker goroutine;
// a non-nil error is logged and counted but never crashes the processor.
type Task struct {
	Kind  Kind
	Label string
	Fn    func(ctx context.Context) error
}

// Config controls worker count and which task kinds run at all.
type Config struct {
	Enable                  bool          `yaml:"enable"`
	Threads                 int           `yaml:"threads"`
	EnableAutoCompaction    bool          `yaml:"enable_auto_compaction"`
	EnableAutoCleanup       bool          `yaml:"enable_auto_cleanup"`
	EnableMetricsCollection bool          `yaml:"enable_metrics_collection"`
	ShutdownDrainTimeout    time.Duration `yaml:"-"`
}

// DefaultConfig matches friggdb/pool's "concurrency disabled by default
// unless threads given" posture, scaled down: 4 workers, everything on.
func DefaultConfig() Config {
	return Config{
		Enable:                  true,
		Threads:                 4,
		EnableAutoCompaction:    true,
		EnableAutoCleanup:       true,
		EnableMetricsCollection: true,
		ShutdownDrainTimeout:    30 * time.Second,
	}
}

// Processor is a priority task queue plus a fixed worker pool. Flush
// tasks are drained ahead of Compaction tasks at every worker's select,
// matching spec §4.N's "Priorities let Flush preempt Compaction."
type Processor struct {
	cfg    Config
	logger log.Logger

	flushCh chan Task
	normalCh chan Task

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	tasksRun    prometheus.Counter
	tasksFailed *prometheus.CounterVec
	queueLen    prometheus.Gauge
}

// New constructs a Processor and starts its worker goroutines. Callers
// that set cfg.Enable=false get a Processor whose Submit silently drops
// tasks (spec's background.enable=false mode); no goroutines are started.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) *Processor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := &Processor{
		cfg:      cfg,
		logger:   logger,
		flushCh:  make(chan Task, 256),
		normalCh: make(chan Task, 1024),
		stopCh:   make(chan struct{}),
	}
	if reg != nil {
		p.tasksRun = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb_engine",
			Name:      "background_tasks_total",
			Help:      "Total number of background tasks executed.",
		})
		p.tasksFailed = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "tsdb_engine",
			Name:      "background_tasks_failed_total",
			Help:      "Total number of background tasks that returned an error.",
		}, []string{"kind"})
		p.queueLen = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "tsdb_engine",
			Name:      "background_queue_length",
			Help:      "Current number of queued (non-flush) background tasks.",
		})
	}

	if !cfg.Enable {
		return p
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}
	for i := 0; i < threads; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues t. On a disabled processor every task, Flush included,
// is dropped silently. Otherwise Flush tasks wait for a slot in their
// (bounded, but generous) queue; other kinds are dropped with a logged
// warning if their queue is full, never blocking the caller.
func (p *Processor) Submit(t Task) {
	if !p.cfg.Enable {
		return
	}
	switch t.Kind {
	case KindFlush:
		select {
		case p.flushCh <- t:
		case <-p.stopCh:
		}
	default:
		if p.queueLen != nil {
			p.queueLen.Set(float64(len(p.normalCh)))
		}
		select {
		case p.normalCh <- t:
		case <-p.stopCh:
		default:
			level.Warn(p.logger).Log("msg", "background queue full, dropping task", "kind", t.Kind.String(), "label", t.Label)
		}
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.flushCh:
			p.run(t)
			continue
		default:
		}

		select {
		case t := <-p.flushCh:
			p.run(t)
		case t := <-p.normalCh:
			p.run(t)
		case <-p.stopCh:
			// Drain remaining flush tasks before exiting; compaction/retention/etc
			// are abandoned on shutdown per spec §4.N.
			for {
				select {
				case t := <-p.flushCh:
					p.run(t)
				default:
					return
				}
			}
		}
	}
}

func (p *Processor) run(t Task) {
	ctx := context.Background()
	err := t.Fn(ctx)
	if p.tasksRun != nil {
		p.tasksRun.Inc()
	}
	if err != nil {
		if p.tasksFailed != nil {
			p.tasksFailed.WithLabelValues(t.Kind.String()).Inc()
		}
		level.Error(p.logger).Log("msg", "background task failed", "kind", t.Kind.String(), "label", t.Label, "err", err)
	}
}

// Shutdown stops accepting new tasks and waits up to
// cfg.ShutdownDrainTimeout for in-flight/queued Flush tasks to drain,
// then forcibly stops. Queued Compaction/Retention/etc tasks are
// abandoned.
func (p *Processor) Shutdown() error {
	if !p.cfg.Enable {
		return nil
	}
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.cfg.ShutdownDrainTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("background: shutdown drain timed out after %s", timeout)
	}
}
