// Package control provides the pause/resume/cancel signal sampled by the
// draw loop between instructions.
package control

import (
	"sync/atomic"

	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/hw/gpio"
)

// State is the requested draw state.
type State int32

const (
	Continue State = iota
	Pause
	Cancel
)

func (s State) String() string {
	switch s {
	case Continue:
		return "continue"
	case Pause:
		return "pause"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Signal is read by the draw loop. Implementations must be safe to read
// from the drawing goroutine while other goroutines change them.
type Signal interface {
	State() State
}

// Resetter is implemented by signals that latch a state between draws.
type Resetter interface {
	Reset()
}

// Reset returns s to Continue when it latches state. Combined signals
// reset every member.
func Reset(s Signal) {
	if r, ok := s.(Resetter); ok {
		r.Reset()
	}
}

// Control is a Signal driven by method calls, e.g. from the web API.
type Control struct {
	state atomic.Int32
}

// New returns a Control in the Continue state.
func New() *Control { return &Control{} }

func (c *Control) State() State { return State(c.state.Load()) }

// Pause requests a pause. It has no effect once cancelled.
func (c *Control) Pause() {
	if c.state.CompareAndSwap(int32(Continue), int32(Pause)) {
		debug.Live("Control: pause requested")
	}
}

// Resume continues a paused draw. It has no effect once cancelled.
func (c *Control) Resume() {
	if c.state.CompareAndSwap(int32(Pause), int32(Continue)) {
		debug.Live("Control: resume requested")
	}
}

// Cancel stops the draw at the next instruction boundary.
func (c *Control) Cancel() {
	c.state.Store(int32(Cancel))
	debug.Live("Control: cancel requested")
}

// Reset returns to Continue, ready for the next draw.
func (c *Control) Reset() {
	c.state.Store(int32(Continue))
}

// Buttons reads a pause switch and a cancel button on GPIO pins. Both are
// active low with pull-ups. The pause switch pauses while closed; a cancel
// press latches until Reset. A pin < 0 is not used.
type Buttons struct {
	drv      gpio.Driver
	pausePin int
	stopPin  int
	latched  atomic.Bool
}

// NewButtons configures the pins as pulled-up inputs.
func NewButtons(drv gpio.Driver, pausePin, cancelPin int) (*Buttons, error) {
	b := &Buttons{drv: drv, pausePin: pausePin, stopPin: cancelPin}
	for _, pin := range []int{pausePin, cancelPin} {
		if pin < 0 {
			continue
		}
		if err := drv.SetupPin(pin, gpio.InputPullUp); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Buttons) State() State {
	if b.latched.Load() {
		return Cancel
	}
	if b.pressed(b.stopPin) {
		debug.Info("Cancel button pressed")
		b.latched.Store(true)
		return Cancel
	}
	if b.pressed(b.pausePin) {
		return Pause
	}
	return Continue
}

// Reset clears a latched cancel.
func (b *Buttons) Reset() { b.latched.Store(false) }

func (b *Buttons) pressed(pin int) bool {
	if pin < 0 {
		return false
	}
	l, err := b.drv.ReadPin(pin)
	if err != nil {
		debug.Error(err)
		return false
	}
	return l == gpio.Low
}

// Any combines signals. Cancel wins over Pause, Pause over Continue.
func Any(signals ...Signal) Signal {
	return anySignal(signals)
}

type anySignal []Signal

func (a anySignal) State() State {
	out := Continue
	for _, s := range a {
		if s == nil {
			continue
		}
		if st := s.State(); st > out {
			out = st
		}
	}
	return out
}

func (a anySignal) Reset() {
	for _, s := range a {
		if s != nil {
			Reset(s)
		}
	}
}
