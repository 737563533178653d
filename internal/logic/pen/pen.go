// Package pen tracks the physical pen-lift state and emits the raise and
// lower commands with their settle times.
package pen

import (
	"math"
	"time"

	"github.com/cjeanneret/PlotGo/internal/clock"
	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/hw/ebb"
	"github.com/cjeanneret/PlotGo/internal/logic/servo"
)

// settleThreshold is the transition time above which the caller waits for
// the servo to finish moving.
const settleThreshold = 50

// State is the physical pen position as far as the driver knows.
type State int

const (
	Unknown State = iota
	Up
	Down
)

func (s State) String() string {
	switch s {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Limits is the effective (down %, up %) pair.
type Limits struct {
	Down float64 `json:"down"`
	Up   float64 `json:"up"`
}

// Override holds optional one-off values for a single transition.
// A nil Delay (or a negative one) keeps the configured delay; a nil Level
// keeps the configured position.
type Override struct {
	Delay *int
	Level *float64
}

// Sender writes protocol commands in order.
type Sender interface {
	Send(cmd string) error
}

// Machine is the pen-lift state machine.
type Machine struct {
	out   Sender
	clock clock.Clock

	hw       servo.Hardware
	settings servo.Settings
	preDelay int

	limits Limits
	stack  []Limits
	timing servo.Timing
	state  State
	level  float64 // last commanded %, valid unless state is Unknown
	lifts  int
}

// NewMachine creates a machine in the Unknown state. The configured limits
// are pushed as the bottom entry of the save stack.
func NewMachine(out Sender, clk clock.Clock, hw servo.Hardware, s servo.Settings, preDelay int) *Machine {
	m := &Machine{
		out:      out,
		clock:    clk,
		hw:       hw,
		settings: s,
		preDelay: preDelay,
		limits:   Limits{Down: s.Down, Up: s.Up},
	}
	m.stack = []Limits{m.limits}
	m.recompute()
	return m
}

// Configure replaces hardware constants and settings, resets the limits to
// the new configured values and recomputes timing.
func (m *Machine) Configure(hw servo.Hardware, s servo.Settings, preDelay int) {
	m.hw = hw
	m.settings = s
	m.preDelay = preDelay
	m.limits = Limits{Down: s.Down, Up: s.Up}
	m.stack = []Limits{m.limits}
	m.recompute()
}

func (m *Machine) recompute() {
	s := m.settings
	s.Down, s.Up = m.limits.Down, m.limits.Up
	m.timing = servo.ComputeTiming(m.hw, s)
	debug.Verbose("Pen timing: raise=%dms lower=%dms (down=%.1f%% up=%.1f%%)",
		m.timing.Raise, m.timing.Lower, m.limits.Down, m.limits.Up)
}

// Setup sends the full servo configuration for the current limits.
func (m *Machine) Setup() error {
	s := m.settings
	s.Down, s.Up = m.limits.Down, m.limits.Up
	m.recompute()
	for _, c := range servo.SetupCommands(m.hw, s) {
		if err := m.out.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// Apply sets new limits, falling back to the configured values for nil
// arguments, then sends the servo configuration.
func (m *Machine) Apply(down, up *float64) error {
	l := Limits{Down: m.settings.Down, Up: m.settings.Up}
	if down != nil {
		l.Down = *down
	}
	if up != nil {
		l.Up = *up
	}
	m.limits = l
	return m.Setup()
}

func (m *Machine) setLimits(l Limits) {
	m.limits = l
	m.recompute()
}

// Limits returns the current effective limits.
func (m *Machine) Limits() Limits { return m.limits }

// Timing returns the cached raise and lower times.
func (m *Machine) Timing() servo.Timing { return m.timing }

// State returns the physical state.
func (m *Machine) State() State { return m.state }

// IsDown reports whether the pen is known to be down.
func (m *Machine) IsDown() bool { return m.state == Down }

// Lifts returns the number of transitions executed over the machine's
// lifetime.
func (m *Machine) Lifts() int { return m.lifts }

// Save pushes the current limits.
func (m *Machine) Save() {
	m.stack = append(m.stack, m.limits)
	debug.Verbose("Saved pen limits %+v (depth %d)", m.limits, len(m.stack))
}

// Restore pops the last saved limits and sends them to the board. The
// bottom entry is never popped; an underflow is logged and ignored.
func (m *Machine) Restore() error {
	if len(m.stack) < 2 {
		debug.Warn("stack underflow, can't restore pen state")
		return nil
	}
	m.setLimits(m.stack[len(m.stack)-1])
	m.stack = m.stack[:len(m.stack)-1]
	if err := m.out.Send(ebb.ServoConfig(ebb.ChannelUpPosition, m.hw.Position(m.limits.Up))); err != nil {
		return err
	}
	if err := m.out.Send(ebb.ServoConfig(ebb.ChannelDownPosition, m.hw.Position(m.limits.Down))); err != nil {
		return err
	}
	debug.Verbose("Restored pen limits %+v", m.limits)
	return nil
}

// Raise lifts the pen. It returns the transition time in ms, or 0 when the
// pen was already up and nothing was sent.
func (m *Machine) Raise(o Override) (int, error) {
	return m.transition(Up, o)
}

// Lower drops the pen. It returns the transition time in ms, or 0 when the
// pen was already down and nothing was sent.
func (m *Machine) Lower(o Override) (int, error) {
	return m.transition(Down, o)
}

// transition moves the pen to target. A level override always executes,
// moves the servo to that level for this transition only, and restores the
// configured position right after.
func (m *Machine) transition(target State, o Override) (int, error) {
	if m.state == target && o.Level == nil {
		debug.Trace("Pen already %s, skipping", target)
		return 0, nil
	}

	channel, level, rate, delay, t := ebb.ChannelDownPosition, m.limits.Down, m.settings.DownRate, m.settings.DelayDown, m.timing.Lower
	from := m.limits.Up
	if target == Up {
		channel, level, rate, delay, t = ebb.ChannelUpPosition, m.limits.Up, m.settings.UpRate, m.settings.DelayUp, m.timing.Raise
		from = m.limits.Down
	}
	if m.state == target {
		from = m.level
	}

	custom := false
	if o.Level != nil {
		level = *o.Level
		custom = true
		if err := m.out.Send(ebb.ServoConfig(channel, m.hw.Position(level))); err != nil {
			return 0, err
		}
	}
	if o.Delay != nil && *o.Delay >= 0 {
		delay = *o.Delay
		custom = true
	}
	if custom {
		t = max(0, servo.TransitTime(m.hw, math.Abs(level-from), rate)+delay)
	}

	state := ebb.PenDownState
	if target == Up {
		state = ebb.PenUpState
	}
	if err := m.out.Send(ebb.Pen(state, t, m.hw.Pin)); err != nil {
		return 0, err
	}
	m.state = target
	m.level = level
	m.lifts++
	debug.Live("Pen %s (%dms)", target, t)

	if t > settleThreshold {
		if wait := t - m.preDelay; wait > 0 {
			m.clock.Sleep(time.Duration(wait) * time.Millisecond)
		}
	}

	if o.Level != nil {
		restore := m.limits.Down
		if target == Up {
			restore = m.limits.Up
		}
		if err := m.out.Send(ebb.ServoConfig(channel, m.hw.Position(restore))); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Park sends a pen-up with no delay whatever the known state, for emergency
// stops. No settle time is waited.
func (m *Machine) Park() error {
	if err := m.out.Send(ebb.PenUp(0, m.hw.Pin)); err != nil {
		return err
	}
	m.state = Up
	m.level = m.limits.Up
	m.lifts++
	return nil
}
