// Package workerpool runs tasks on a dynamically sized set of goroutines
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxWorkers  = 32
	DefaultIdleTimeout = 60 * time.Second
)

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("worker pool closed")

// Pool hands tasks to idle workers, starts new ones up to maxWorkers and
// lets workers exit after idleTimeout without work. Tasks submitted while
// every worker is busy wait for the next free worker.
type Pool struct {
	tasks       chan func()
	slots       chan struct{}
	quit        chan struct{}
	idleTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
	live    atomic.Int32
}

// New creates a pool. Non-positive arguments select the defaults.
func New(maxWorkers int, idleTimeout time.Duration, logger *zap.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		tasks:       make(chan func()),
		slots:       make(chan struct{}, maxWorkers),
		quit:        make(chan struct{}),
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

var (
	defaultPool *Pool
	defaultOnce sync.Once
)

// Default returns the process-wide pool, creating it on first use
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(DefaultMaxWorkers, DefaultIdleTimeout, nil)
	})
	return defaultPool
}

// Submit schedules task without blocking the caller
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.pending.Add(1)
	p.mu.Unlock()

	job := func() {
		defer p.pending.Done()
		p.run(task)
	}

	select {
	case p.tasks <- job:
		return nil
	default:
	}

	select {
	case p.slots <- struct{}{}:
		p.spawn(job)
		return nil
	default:
	}

	go p.enqueue(job)
	return nil
}

// enqueue blocks until an idle worker takes job or a slot frees up
func (p *Pool) enqueue(job func()) {
	select {
	case p.tasks <- job:
	case p.slots <- struct{}{}:
		p.spawn(job)
	}
}

func (p *Pool) spawn(first func()) {
	p.workers.Add(1)
	p.live.Add(1)
	go p.worker(first)
}

func (p *Pool) worker(first func()) {
	defer p.workers.Done()
	defer func() {
		p.live.Add(-1)
		<-p.slots
	}()

	first()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case job := <-p.tasks:
			job()
			idle.Reset(p.idleTimeout)
		case <-idle.C:
			return
		case <-p.quit:
			return
		}
	}
}

// run executes task, logging instead of propagating a panic
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}

// Workers returns the number of live workers
func (p *Pool) Workers() int {
	return int(p.live.Load())
}

// Wait blocks until every submitted task has finished
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Close rejects new tasks, waits for submitted ones and stops all workers
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pending.Wait()
	close(p.quit)
	p.workers.Wait()
}
