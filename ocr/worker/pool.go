// Package worker runs CPU-bound OCR calls on a fixed set of goroutines so
// that callers waiting on the priority gate never do the extraction work
// themselves.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ocr/worker")

// ErrPoolClosed is returned for tasks submitted after Close
var ErrPoolClosed = errors.New("worker pool closed")

// Task is a unit of work run on a pool goroutine.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
	// claimed is set by whichever side gets the job first: a worker about to
	// run it, or Do abandoning it while it is still queued
	claimed atomic.Bool
}

// Pool is a fixed-size worker pool.
type Pool struct {
	workers int
	jobs    chan *job

	mu     sync.RWMutex // guards closed and workers against concurrent sends
	closed bool
	wg     sync.WaitGroup

	// Metrics
	tasksSubmitted int64 // atomic
	tasksCompleted int64 // atomic
	tasksPanicked  int64 // atomic
	tasksAbandoned int64 // atomic
	activeWorkers  int32 // atomic
}

// NewPool starts a pool with n workers. n <= 0 uses GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: n,
		jobs:    make(chan *job, n*2),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Infof("Worker pool started with %d workers", n)
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		if !j.claimed.CompareAndSwap(false, true) {
			atomic.AddInt64(&p.tasksAbandoned, 1)
			continue
		}
		j.done <- p.run(j)
	}
}

func (p *Pool) run(j *job) (err error) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.tasksPanicked, 1)
			log.Errorf("Worker panic recovered: %v", r)
			err = fmt.Errorf("worker task panicked: %v", r)
		}
		atomic.AddInt32(&p.activeWorkers, -1)
		atomic.AddInt64(&p.tasksCompleted, 1)
	}()

	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.task(j.ctx)
}

// Do runs task on a pool worker and waits for its result. If ctx ends while
// the task is still queued, the task is abandoned and Do returns ctx.Err().
// Once a worker has picked the task up, Do waits for it to return even if
// ctx ends, so the caller holds its resources for as long as the task runs.
func (p *Pool) Do(ctx context.Context, task Task) error {
	j := &job{ctx: ctx, task: task, done: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-j.done
	}
}

// EnsureWorkers grows the pool to at least n workers. It never shrinks it.
func (p *Pool) EnsureWorkers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || n <= p.workers {
		return
	}
	added := n - p.workers
	for i := 0; i < added; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.workers = n
	log.Infof("Worker pool grown by %d to %d workers", added, n)
}

// Stats contains statistics about the pool
type Stats struct {
	Workers        int   `json:"workers"`
	ActiveWorkers  int   `json:"active_workers"`
	QueuedTasks    int   `json:"queued_tasks"`
	QueueCapacity  int   `json:"queue_capacity"`
	TasksSubmitted int64 `json:"tasks_submitted"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksPanicked  int64 `json:"tasks_panicked"`
	TasksAbandoned int64 `json:"tasks_abandoned"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	workers := p.workers
	p.mu.RUnlock()
	return Stats{
		Workers:        workers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueuedTasks:    len(p.jobs),
		QueueCapacity:  cap(p.jobs),
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksPanicked:  atomic.LoadInt64(&p.tasksPanicked),
		TasksAbandoned: atomic.LoadInt64(&p.tasksAbandoned),
	}
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()

	stats := p.Stats()
	log.Infof("Worker pool shut down: submitted=%d completed=%d panicked=%d",
		stats.TasksSubmitted, stats.TasksCompleted, stats.TasksPanicked)
	return nil
}
