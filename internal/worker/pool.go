package worker

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of CPU-bound jobs running at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a Pool with size slots. A non-positive size uses GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}

	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Do waits for a free slot and runs fn on its own goroutine.
//
// Waiting for a slot honours ctx. Once fn has started it runs to completion
// even if ctx is canceled; Do still waits for it so the slot accounting and
// any side effects of fn are settled when Do returns.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("worker: wait for slot: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("worker: job panicked: %v", r)
			}
		}()
		done <- fn()
	}()

	return <-done
}
