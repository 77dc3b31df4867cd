// Package governor paces the automation and enforces the daily application ceiling.
package governor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Range is an inclusive [Min, Max] window for randomized waits.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Random draws a uniformly distributed duration from the window.
func (r Range) Random() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min)+1))
}

// Sleeper blocks for a duration unless ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on the wall clock.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately. Used by tests and dry runs.
type NoSleep struct{}

func (NoSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// Pause sleeps for a random duration drawn from r.
func Pause(ctx context.Context, s Sleeper, r Range) error {
	return s.Sleep(ctx, r.Random())
}

// Governor tracks the quota of one run and spaces applications apart.
type Governor struct {
	delay   Range
	sleeper Sleeper

	mu       sync.Mutex
	ceiling  int
	consumed int
}

// New creates a governor allowing ceiling applications, paced by delay.
func New(ceiling int, delay Range, sleeper Sleeper) *Governor {
	if ceiling < 0 {
		ceiling = 0
	}
	return &Governor{delay: delay, sleeper: sleeper, ceiling: ceiling}
}

// NextDelay draws the wait before the next posting.
func (g *Governor) NextDelay() time.Duration {
	return g.delay.Random()
}

// Remaining returns how many more applications this run may make.
func (g *Governor) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consumed >= g.ceiling {
		return 0
	}
	return g.ceiling - g.consumed
}

// Consume records n applications.
func (g *Governor) Consume(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consumed += n
}

// Consumed returns the number of applications recorded so far.
func (g *Governor) Consumed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumed
}

// Wait sleeps for NextDelay, returning early with ctx's error on cancellation.
func (g *Governor) Wait(ctx context.Context) error {
	return g.sleeper.Sleep(ctx, g.NextDelay())
}
