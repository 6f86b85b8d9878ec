package parallel

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
)

func newPool(t *testing.T, workers int) *WorkerPool {
	t.Helper()
	pool, err := NewWorkerPool("test", workers, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWorkerPool(%d) error: %v", workers, err)
	}
	return pool
}

// TestWorkerPoolBasicOperations tests basic worker pool functionality
func TestWorkerPoolBasicOperations(t *testing.T) {
	pool := newPool(t, 4)

	var executed atomic.Bool
	if !pool.Submit(func() { executed.Store(true) }) {
		t.Error("Task submission failed")
	}

	pool.Close()

	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

// TestWorkerPoolSizing tests worker count normalisation
func TestWorkerPoolSizing(t *testing.T) {
	if _, err := NewWorkerPool("huge", math.MaxInt, nil); err == nil {
		t.Error("Expected error for too many workers")
	}

	for _, tc := range []struct{ in, want int }{{0, 1}, {-5, 1}, {3, 3}} {
		pool := newPool(t, tc.in)
		if pool.workers != tc.want {
			t.Errorf("NewWorkerPool(%d) workers = %d, want %d", tc.in, pool.workers, tc.want)
		}
		pool.Close()
	}
}

// TestWorkerPoolConcurrentSubmissions tests concurrent task submissions
func TestWorkerPoolConcurrentSubmissions(t *testing.T) {
	pool := newPool(t, 10)

	numTasks := 100
	var counter atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(func() { counter.Add(1) })
		}()
	}

	wg.Wait()
	pool.Close()

	if counter.Load() != int64(numTasks) {
		t.Errorf("Expected counter %d, got %d", numTasks, counter.Load())
	}
	if completed, _ := pool.Stats(); completed != int64(numTasks) {
		t.Errorf("Stats completed = %d, want %d", completed, numTasks)
	}
}

// TestWorkerPoolSubmitAfterClose tests that a closed pool rejects work
func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := newPool(t, 2)
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Submit should fail after Close")
	}
	if pool.TrySubmit(func() {}) {
		t.Error("TrySubmit should fail after Close")
	}

	// Close is idempotent
	pool.Close()
}

// TestWorkerPoolTrySubmitWhenBusy tests that TrySubmit never blocks
func TestWorkerPoolTrySubmitWhenBusy(t *testing.T) {
	pool := newPool(t, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	pool.Submit(func() {
		close(started)
		<-release
	})
	<-started

	// one worker busy, queue holds 2
	accepted := 0
	for i := 0; i < 5; i++ {
		if pool.TrySubmit(func() {}) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("TrySubmit accepted %d tasks, want 2", accepted)
	}

	close(release)
	pool.Close()
}

// TestWorkerPoolCloseRace tests Submit racing with Close
func TestWorkerPoolCloseRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		pool := newPool(t, 4)
		var wg sync.WaitGroup
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.Submit(func() {})
			}()
		}
		pool.Close()
		wg.Wait()
	}
}

// TestWorkerPoolWithPanic tests that panics in tasks don't crash the pool
func TestWorkerPoolWithPanic(t *testing.T) {
	pool := newPool(t, 4)

	var counter atomic.Int64
	for i := 0; i < 5; i++ {
		pool.Submit(func() { panic("intentional panic") })
	}
	for i := 0; i < 10; i++ {
		pool.Submit(func() { counter.Add(1) })
	}

	pool.Close()

	if counter.Load() != 10 {
		t.Errorf("Expected counter 10, got %d", counter.Load())
	}
	if _, panics := pool.Stats(); panics != 5 {
		t.Errorf("Stats panics = %d, want 5", panics)
	}
}

// BenchmarkWorkerPoolThroughput benchmarks worker pool throughput
func BenchmarkWorkerPoolThroughput(b *testing.B) {
	pool, _ := NewWorkerPool("bench", 10, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(func() {})
	}

	pool.Close()
}
