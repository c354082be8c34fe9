package repeat

import (
	"context"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// TaskExecutor runs the iterations submitted by a ThrottledTemplate.
type TaskExecutor interface {
	Execute(task func())
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(task func())

// Execute calls f.
func (f TaskExecutorFunc) Execute(task func()) { f(task) }

// SyncTaskExecutor runs each task on the submitting goroutine.
type SyncTaskExecutor struct{}

// Execute runs task immediately.
func (SyncTaskExecutor) Execute(task func()) { task() }

// GoroutineTaskExecutor starts a goroutine per task.
type GoroutineTaskExecutor struct{}

// Execute runs task on a new goroutine.
func (GoroutineTaskExecutor) Execute(task func()) { go task() }

// WorkerPool runs tasks on a fixed number of long-lived goroutines.
// Execute blocks while every worker is busy.
type WorkerPool struct {
	size  int
	tasks chan func()

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool of size workers (at least one). Workers start on first use.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{size: size, tasks: make(chan func())}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Start launches the workers. It is idempotent.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	logger.Debugf("WorkerPool started with %d worker(s).", p.size)
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
	logger.Tracef("WorkerPool worker %d exited.", id)
}

// Execute hands task to an idle worker. After Stop, tasks run on their own goroutine.
func (p *WorkerPool) Execute(task func()) {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		logger.Warnf("WorkerPool is stopped; running task on a dedicated goroutine.")
		go task()
		return
	}
	if !p.started {
		p.mu.RUnlock()
		p.Start()
		p.mu.RLock()
	}
	defer p.mu.RUnlock()
	if p.stopped {
		go task()
		return
	}
	p.tasks <- task
}

// Stop lets running tasks finish and shuts the workers down, or returns ctx.Err() if ctx ends first.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debugf("WorkerPool stopped.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
