package database

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many store calls may be in flight at once. With a weight
// of one every call is serialized over the shared session, which is the
// store access model the repositories are written against; higher weights
// give a bounded pool with per-call checkout.
type Gate struct {
	sem    *semaphore.Weighted
	weight int64
}

// NewGate returns a gate admitting at most n concurrent calls.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), weight: int64(n)}
}

// Weight returns the number of calls the gate admits concurrently.
func (g *Gate) Weight() int { return int(g.weight) }

// Do runs fn once a slot is free. Waiting for the slot honours ctx; once fn
// starts it receives a context detached from the caller's cancellation so a
// client disconnect never aborts a store call halfway.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(context.WithoutCancel(ctx))
}
