package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the draw loop. Sleep is the only
// suspension primitive: it always runs to completion.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real uses the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Virtual is a manually advanced clock for tests. Sleep returns immediately
// after advancing the virtual time and recording the requested duration.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, if set, is called after each Sleep with the number of sleeps
	// performed so far. Tests use it to flip control signals.
	OnSleep func(n int, d time.Duration)
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Sleep(d time.Duration) {
	v.mu.Lock()
	if d > 0 {
		v.now = v.now.Add(d)
	}
	v.sleeps = append(v.sleeps, d)
	n := len(v.sleeps)
	hook := v.OnSleep
	v.mu.Unlock()

	if hook != nil {
		hook(n, d)
	}
}

// Advance moves the clock forward without recording a sleep.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.mu.Unlock()
}

// Sleeps returns a copy of all recorded sleep durations.
func (v *Virtual) Sleeps() []time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]time.Duration, len(v.sleeps))
	copy(out, v.sleeps)
	return out
}

// Slept returns the total virtual time spent sleeping.
func (v *Virtual) Slept() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total time.Duration
	for _, d := range v.sleeps {
		total += d
	}
	return total
}
