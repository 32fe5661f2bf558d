package tool

import (
	"sync"
	"time"

	"go.uber.org/fx"
)

// Clock returns the current time. Services take a Clock so tests can pin "now".
type Clock func() time.Time

func NewClock() Clock {
	return func() time.Time { return time.Now().UTC() }
}

// FakeClock is a settable clock for tests and one-shot backfills.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *FakeClock) Clock() Clock {
	return f.Now
}

var Module = fx.Options(
	fx.Provide(NewClock),
)
