package schedule

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultWidth is the number of concurrent workers when none is given.
const DefaultWidth = 5

// Outcome is the result of one item passed to RunAll.
type Outcome[R any] struct {
	Value R

	// Dropped is set when the item never started because the pool was
	// stopped or the context ended first.
	Dropped bool
}

// Pool bounds concurrent work for one batch. Stop drops queued work
// without interrupting workers that already started.
type Pool struct {
	width int64
	sem   *semaphore.Weighted

	stopCtx context.Context
	stop    context.CancelFunc

	started atomic.Int64
	dropped atomic.Int64
}

// NewPool creates a pool running at most width workers at once. A width
// below one means DefaultWidth.
func NewPool(width int) *Pool {
	if width < 1 {
		width = DefaultWidth
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		width:   int64(width),
		sem:     semaphore.NewWeighted(int64(width)),
		stopCtx: ctx,
		stop:    cancel,
	}
}

// Width returns the worker bound.
func (p *Pool) Width() int { return int(p.width) }

// Stop drops all queued work. It is safe to call more than once and from
// inside a worker.
func (p *Pool) Stop() { p.stop() }

// Stopped reports whether Stop was called.
func (p *Pool) Stopped() bool { return p.stopCtx.Err() != nil }

// Started returns the number of workers started so far.
func (p *Pool) Started() int { return int(p.started.Load()) }

// Dropped returns the number of items dropped so far.
func (p *Pool) Dropped() int { return int(p.dropped.Load()) }

// acquire waits for a worker slot, giving up when ctx ends or the pool is
// stopped.
func (p *Pool) acquire(ctx context.Context) bool {
	if ctx.Err() != nil || p.Stopped() {
		return false
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(p.stopCtx, cancel)
	defer unhook()

	if err := p.sem.Acquire(actx, 1); err != nil {
		return false
	}
	if p.Stopped() || ctx.Err() != nil {
		p.sem.Release(1)
		return false
	}
	return true
}

// RunAll calls worker for each item with at most p.Width() calls in
// flight. Items start in input order and outcomes are returned in input
// order regardless of completion order. Once ctx ends or p is stopped, the
// remaining items are marked Dropped; workers already running get ctx and
// are waited for.
func RunAll[T, R any](ctx context.Context, p *Pool, items []T, worker func(ctx context.Context, index int, item T) R) []Outcome[R] {
	out := make([]Outcome[R], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		if !p.acquire(ctx) {
			for j := i; j < len(out); j++ {
				out[j].Dropped = true
			}
			p.dropped.Add(int64(len(out) - i))
			break
		}
		p.started.Add(1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			out[i].Value = worker(ctx, i, item)
		}()
	}
	wg.Wait()
	return out
}
