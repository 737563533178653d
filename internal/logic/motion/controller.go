package motion

import (
	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/hw/ebb"
	"github.com/cjeanneret/PlotGo/internal/logic/geometry"
)

// Sender writes protocol commands in order.
type Sender interface {
	Send(cmd string) error
}

// PenSensor reports the pen state, which selects the move speed.
type PenSensor interface {
	IsDown() bool
}

// Config holds the motion tunables.
type Config struct {
	Scaler    geometry.Scaler
	Bounds    *geometry.Rect // in steps; nil disables clamping
	SpeedUp   float64        // steps/s with pen up
	SpeedDown float64        // steps/s with pen down
}

// Move is the result of one move command.
type Move struct {
	Duration float64 // predicted ms
	Distance float64 // world units travelled
}

// Controller turns world-space targets into relative XY step moves.
// It is an intermediate layer between the draw loop and the protocol.
// All moves sent to the board are relative; the controller owns the
// absolute position.
type Controller struct {
	out Sender
	pen PenSensor
	cfg Config

	pos    geometry.Vec // steps
	target geometry.Vec // steps
}

func NewController(out Sender, pen PenSensor, cfg Config) *Controller {
	return &Controller{out: out, pen: pen, cfg: cfg}
}

// Configure replaces the tunables. The position is kept.
func (c *Controller) Configure(cfg Config) {
	c.cfg = cfg
}

// Position returns the current absolute position in steps.
func (c *Controller) Position() geometry.Vec { return c.pos }

// MoveTo moves to an absolute world point, offset by the home position.
// A tempo <= 0 means 1.
func (c *Controller) MoveTo(p geometry.Vec, tempo float64) (Move, error) {
	c.target = c.cfg.Scaler.Absolute(p)
	return c.send(tempo)
}

// MoveRelative moves by a world-space delta from the current position.
func (c *Controller) MoveRelative(delta geometry.Vec, tempo float64) (Move, error) {
	c.target = c.cfg.Scaler.Relative(delta, c.pos)
	return c.send(tempo)
}

// Home moves to the world origin.
func (c *Controller) Home() (Move, error) {
	return c.MoveTo(geometry.Origin, 1)
}

// Reset zeroes the position trackers and resets the board.
func (c *Controller) Reset() error {
	c.pos = geometry.Origin
	c.target = geometry.Origin
	return c.out.Send(ebb.Reset())
}

// EnableMotors powers both steppers.
func (c *Controller) EnableMotors() error {
	return c.out.Send(ebb.MotorsOn())
}

// DisableMotors releases both steppers.
func (c *Controller) DisableMotors() error {
	return c.out.Send(ebb.MotorsOff())
}

func (c *Controller) send(tempo float64) (Move, error) {
	if tempo <= 0 {
		tempo = 1
	}
	if c.cfg.Bounds != nil && !c.cfg.Bounds.Contains(c.target) {
		clamped := c.cfg.Bounds.Clamp(c.target)
		debug.Verbose("Target %v outside bounds, clamped to %v", c.target, clamped)
		c.target = clamped
	}
	delta := c.target.Sub(c.pos)
	c.pos = c.target

	speed := c.cfg.SpeedUp
	if c.pen != nil && c.pen.IsDown() {
		speed = c.cfg.SpeedDown
	}
	duration := 1000 * delta.MaxAxis() / (speed * tempo)
	m := Move{
		Duration: duration,
		Distance: c.cfg.Scaler.ToUnits(delta.Mag()),
	}
	debug.Verbose("Move by (%.0f, %.0f) steps in %.0fms, pos=(%.0f, %.0f)",
		delta.X, delta.Y, duration, c.pos.X, c.pos.Y)
	return m, c.out.Send(ebb.Move(duration, delta.X, delta.Y))
}
