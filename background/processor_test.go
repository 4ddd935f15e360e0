package background

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFlushTaskRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 2
	p := New(cfg, nil, nil)
	defer p.Shutdown()

	done := make(chan struct{})
	p.Submit(Task{Kind: KindFlush, Label: "b1", Fn: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush task did not run")
	}
}

func TestFlushPreemptsCompaction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 1
	p := New(cfg, nil, nil)
	defer p.Shutdown()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(3)

	block := make(chan struct{})
	p.Submit(Task{Kind: KindCompaction, Label: "c1", Fn: func(ctx context.Context) error {
		<-block
		mu.Lock()
		order = append(order, "compaction")
		mu.Unlock()
		wg.Done()
		return nil
	}})
	// give the worker a moment to pick up compaction and block on it
	time.Sleep(20 * time.Millisecond)

	p.Submit(Task{Kind: KindCompaction, Label: "c2", Fn: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "compaction")
		mu.Unlock()
		wg.Done()
		return nil
	}})
	p.Submit(Task{Kind: KindFlush, Label: "f1", Fn: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "flush")
		mu.Unlock()
		wg.Done()
		return nil
	}})

	close(block)
	wg.Wait()

	// With a single worker already executing compaction when flush arrives,
	// flush cannot literally preempt the in-flight task, but it must be the
	// next one dequeued ahead of any later compaction work (c2, queued
	// before f1).
	require.Contains(t, order, "flush")
	require.Contains(t, order, "compaction")
	require.Equal(t, []string{"compaction", "flush", "compaction"}, order)
}

func TestSubmitOnDisabledProcessorIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enable = false
	p := New(cfg, nil, nil)
	defer p.Shutdown()

	ran := false
	p.Submit(Task{Kind: KindRetention, Fn: func(ctx context.Context) error {
		ran = true
		return nil
	}})
	time.Sleep(20 * time.Millisecond)
	require.False(t, ran)
}

func TestShutdownDrainsQueuedFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 1
	p := New(cfg, nil, nil)

	var ran atomicBool
	p.Submit(Task{Kind: KindFlush, Fn: func(ctx context.Context) error {
		ran.set(true)
		return nil
	}})
	require.NoError(t, p.Shutdown())
	require.True(t, ran.get())
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func TestFailedTaskDoesNotCrashWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 1
	p := New(cfg, nil, nil)
	defer p.Shutdown()

	p.Submit(Task{Kind: KindRetention, Fn: func(ctx context.Context) error {
		return context.DeadlineExceeded
	}})

	done := make(chan struct{})
	p.Submit(Task{Kind: KindFlush, Fn: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker appears stuck after a failing task")
	}
}
