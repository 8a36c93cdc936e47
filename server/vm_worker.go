package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// job represents a unit of work to be executed on a pool goroutine.
type job struct {
	fn   func(context.Context) (any, error)
	ctx  context.Context
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// WorkerPool bounds the number of interpreter runs executing at once.
// Every run owns its interpreter, so jobs share no machine state; the pool
// only limits CPU use by concurrent requests.
type WorkerPool struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewWorkerPool creates a pool of n workers and starts them.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	log.Infof("started %d run workers", n)
	return p
}

// loop processes jobs until the pool is stopped.
func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- p.execute(j)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *WorkerPool) execute(j job) jobResult {
	var result jobResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("run worker recovered from panic: %v", r)
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value, result.err = j.fn(j.ctx)
	}()
	return result
}

// Do submits fn to the pool and blocks until it completes. It gives up
// waiting for a free worker when ctx is done; a job already running sees
// ctx and is expected to return promptly.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	j := job{fn: fn, ctx: ctx, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolStopped
	}
	result := <-j.done
	return result.value, result.err
}

// Stop shuts down the workers and waits for running jobs to finish.
func (p *WorkerPool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
