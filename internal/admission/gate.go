// Package admission implements the admission gate: a bounded counting
// semaphore limiting how many executions run at once.
package admission

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Concurrency is the maximum number of simultaneous executions.
const Concurrency = 4

// Gate bounds concurrent executions to Concurrency permits.
type Gate struct {
	sem *semaphore.Weighted
}

// New returns a Gate with capacity Concurrency.
func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(Concurrency)}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns a permit. Callers must call Release exactly once for
// every successful Acquire, on every exit path including recovered
// panics.
func (g *Gate) Release() {
	g.sem.Release(1)
}
