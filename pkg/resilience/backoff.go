// Package resilience implements the two reliability primitives
// spec.md's cloud engine actually needs: an exponential backoff
// sequence (spec.md §5: "cloud backoff: 1s→30s exponential with 10%
// jitter") and a request coalescer (spec.md §4.7). The coalescer makes
// a call that arrives while one with the same key is in flight wait
// for that call and share its result; it does not start another call
// once the in-flight one returns.
//
// Adapted down from the teacher's pkg/resilience, which bundled a
// circuit breaker, token-bucket rate limiter, bulkhead, and a generic
// Pipeline composing all of them (github.com/freitascorp/devopsclaw
// pkg/resilience/resilience.go) — none of those have a role in this
// spec (no downstream service this library calls needs load-shedding;
// the cloud engine talks to exactly one counterparty at a time, gated
// by Backoff and Coalescer instead), so they're dropped. Backoff keeps
// the teacher's RetryConfig delay-computation shape (trimmed to just
// the delay sequence, since retry looping itself lives in pkg/cloud
// where it also needs to react to Disconnected/InvalidCredentials
// transitions mid-retry). Coalescer keeps the teacher's
// IdempotencyController's "in-flight de-dup" idea, adapted from
// returning a cached result to instead fanning a single in-flight
// call's result out to every waiter that piled up behind it.
package resilience

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes the cloud engine's retry delay sequence: initial
// delay, doubling each failure, capped, with jitter — spec.md's
// "1s→30s exponential with 10% jitter".
type Backoff struct {
	mu         sync.Mutex
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	JitterFrac float64
	current    time.Duration
}

// NewBackoff returns a Backoff with spec.md's cloud defaults: 1s
// initial, 2.0 multiplier, 10% jitter, 30s cap.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		JitterFrac: 0.1,
	}
}

// Next returns the next delay to wait, advancing the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current <= 0 {
		b.current = b.Initial
	}
	delay := b.current
	jitter := time.Duration(float64(delay) * b.JitterFrac * (rand.Float64()*2 - 1))
	next := time.Duration(float64(b.current) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	b.current = next
	d := delay + jitter
	if d < 0 {
		d = 0
	}
	return d
}

// Reset returns the sequence to its initial delay, called on success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}
