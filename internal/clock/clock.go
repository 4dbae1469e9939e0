// Package clock provides the time source and the TTL arithmetic shared by the
// queue, the session store and the maintenance sweep.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current instant. The engine never calls time.Now directly
// so that expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock (UTC).
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually driven clock, safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// ExpiresAt returns the instant a record created at from stops being live.
func ExpiresAt(from time.Time, ttl time.Duration) time.Time {
	return from.Add(ttl)
}

// Expired reports whether now is strictly past expiresAt. A record is still
// live at exactly its expiry instant.
func Expired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// Cutoff returns the oldest instant still inside the retention horizon.
func Cutoff(now time.Time, horizon time.Duration) time.Time {
	return now.Add(-horizon)
}

// Remaining returns the whole seconds left until expiresAt, never negative.
func Remaining(expiresAt, now time.Time) int64 {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}
