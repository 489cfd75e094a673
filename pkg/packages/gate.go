package packages

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a single-slot job queue. Jobs run one at a time in arrival
// order; a job still waiting for the slot can be cancelled through its
// context.
type Gate struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
	running atomic.Bool
}

// NewGate creates an idle gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Do waits for the slot and runs fn while holding it.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	defer g.sem.Release(1)

	g.running.Store(true)
	defer g.running.Store(false)

	return fn(ctx)
}

// Waiting returns the number of jobs queued behind the running one.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}

// Busy reports whether a job holds the slot.
func (g *Gate) Busy() bool {
	return g.running.Load()
}
