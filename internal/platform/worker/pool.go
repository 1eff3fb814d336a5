// Package worker provides a bounded worker pool for fan-out work such as cache warmup.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker: pool closed")

// Job is a unit of work producing a T
type Job[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// Result is the outcome of one job
type Result[T any] struct {
	JobID string
	Value T
	Err   error
}

type task[T any] struct {
	job Job[T]
	out chan Result[T]
}

// Pool runs jobs on a fixed number of goroutines pulling from a bounded queue.
type Pool[T any] struct {
	workers int
	queue   chan task[T]
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. Jobs run with a context derived from ctx.
func NewPool[T any](ctx context.Context, workers int, queueSize int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool[T]{
		workers: workers,
		queue:   make(chan task[T], queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool[T]) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			value, err := t.job.Execute(p.ctx)
			t.out <- Result[T]{JobID: t.job.ID, Value: value, Err: err}
		}
	}
}

// Submit queues a job and returns a channel that receives its result.
// It blocks while the queue is full.
func (p *Pool[T]) Submit(job Job[T]) (<-chan Result[T], error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	out := make(chan Result[T], 1)
	select {
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	case p.queue <- task[T]{job: job, out: out}:
		return out, nil
	}
}

// SubmitAndWait runs jobs and returns their results in submission order.
// Jobs that could not run carry the cancellation error.
func (p *Pool[T]) SubmitAndWait(ctx context.Context, jobs []Job[T]) []Result[T] {
	results := make([]Result[T], len(jobs))
	pending := make([]<-chan Result[T], len(jobs))

	for i, job := range jobs {
		out, err := p.Submit(job)
		if err != nil {
			results[i] = Result[T]{JobID: job.ID, Err: err}
			continue
		}
		pending[i] = out
	}

	for i, out := range pending {
		if out == nil {
			continue
		}
		select {
		case r := <-out:
			results[i] = r
		case <-ctx.Done():
			results[i] = Result[T]{JobID: jobs[i].ID, Err: ctx.Err()}
		case <-p.ctx.Done():
			results[i] = Result[T]{JobID: jobs[i].ID, Err: p.ctx.Err()}
		}
	}
	return results
}

// Close stops accepting jobs, cancels running ones and waits for workers to exit.
func (p *Pool[T]) Close() {
	p.cancel()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *Pool[T]) Workers() int {
	return p.workers
}
