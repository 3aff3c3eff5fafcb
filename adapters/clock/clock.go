// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/mcplaunch/ports"
)

// Real reads the wall clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

var _ ports.Clock = Real{}

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock stopped at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

var _ ports.Clock = (*Fake)(nil)

// Since returns the time elapsed on c since t.
func Since(c ports.Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
