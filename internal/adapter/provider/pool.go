// Package provider implements the LLM provider layer: an OpenAI-compatible
// HTTP client, a deterministic fake for offline runs, and the shared
// concurrency and retry guards both sit behind.
package provider

import (
	"context"
	"fmt"

	"github.com/trustbench/trustbench/internal/domain"
)

// Pool is the process-wide semaphore throttling all outbound completion and
// embedding calls, regardless of which agent issues them. Callers block in
// Acquire until a slot frees or their context ends.
type Pool struct {
	slots chan struct{}
}

// NewPool returns a Pool with the given capacity. Sizes below one are
// clamped to one so a misconfigured pool degrades to serial execution
// instead of deadlock.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Cap returns the pool capacity.
func (p *Pool) Cap() int { return cap(p.slots) }

// InFlight returns the number of currently held slots.
func (p *Pool) InFlight() int { return len(p.slots) }

// Acquire blocks until a slot is free. It fails only when ctx ends first.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for provider slot: %v", domain.ErrCancelled, ctx.Err())
	}
}

// Release frees a slot previously taken by Acquire.
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
		// Release without Acquire is a programming error; dropping it beats
		// blocking the caller.
	}
}
