// Package program defines drawing instructions: the primitive motion and
// pen operations executed by the draw engine.
package program

import (
	"fmt"
	"strconv"

	"github.com/cjeanneret/PlotGo/internal/logic/geometry"
)

// Kind tags an instruction.
type Kind int

const (
	OpStart     Kind = iota // run the configured start sequence
	OpStop                  // run the configured stop sequence
	OpHome                  // move to the world origin
	OpReset                 // zero position trackers, reset the board
	OpMotorOn               // enable steppers
	OpMotorOff              // disable steppers
	OpPenConfig             // set pen limits and send servo setup
	OpPenUp
	OpPenDown
	OpMoveTo  // absolute move
	OpMoveRel // relative move
	OpWait    // explicit delay
	OpComment // logged only
	OpSave    // push pen limits
	OpRestore // pop pen limits
)

var kindNames = [...]string{
	OpStart:     "start",
	OpStop:      "stop",
	OpHome:      "home",
	OpReset:     "reset",
	OpMotorOn:   "on",
	OpMotorOff:  "off",
	OpPenConfig: "pen",
	OpPenUp:     "up",
	OpPenDown:   "down",
	OpMoveTo:    "move",
	OpMoveRel:   "move_rel",
	OpWait:      "wait",
	OpComment:   "comment",
	OpSave:      "save",
	OpRestore:   "restore",
}

// Short aliases of the classic command tuples.
var kindAliases = map[string]Kind{
	"u": OpPenUp,
	"d": OpPenDown,
	"M": OpMoveTo,
	"m": OpMoveRel,
	"w": OpWait,
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Instruction is one drawing primitive. Which fields are meaningful depends
// on Kind. Instructions are values; the With* helpers return copies.
type Instruction struct {
	Kind Kind

	To    geometry.Vec // target (OpMoveTo) or delta (OpMoveRel)
	Speed float64      // tempo factor for moves, 0 means 1

	Delay *int     // OpPenUp/OpPenDown: ms replacing the configured delay
	Level *float64 // OpPenUp/OpPenDown: one-off position in %

	Down *float64 // OpPenConfig, nil keeps the configured value
	Up   *float64 // OpPenConfig, nil keeps the configured value

	Ms   int    // OpWait
	Text string // OpComment
}

func (in Instruction) String() string {
	switch in.Kind {
	case OpMoveTo, OpMoveRel:
		return fmt.Sprintf("%s(%g, %g)", in.Kind, in.To.X, in.To.Y)
	case OpWait:
		return fmt.Sprintf("wait(%dms)", in.Ms)
	case OpComment:
		return fmt.Sprintf("comment(%q)", in.Text)
	}
	return in.Kind.String()
}

// WithSpeed sets the move tempo.
func (in Instruction) WithSpeed(s float64) Instruction {
	in.Speed = s
	return in
}

// WithDelay sets a one-off pen delay in ms.
func (in Instruction) WithDelay(ms int) Instruction {
	in.Delay = &ms
	return in
}

// WithLevel sets a one-off pen position in %.
func (in Instruction) WithLevel(pct float64) Instruction {
	in.Level = &pct
	return in
}

func Start() Instruction    { return Instruction{Kind: OpStart} }
func Stop() Instruction     { return Instruction{Kind: OpStop} }
func Home() Instruction     { return Instruction{Kind: OpHome} }
func Reset() Instruction    { return Instruction{Kind: OpReset} }
func MotorOn() Instruction  { return Instruction{Kind: OpMotorOn} }
func MotorOff() Instruction { return Instruction{Kind: OpMotorOff} }
func Up() Instruction       { return Instruction{Kind: OpPenUp} }
func Down() Instruction     { return Instruction{Kind: OpPenDown} }
func Save() Instruction     { return Instruction{Kind: OpSave} }
func Restore() Instruction  { return Instruction{Kind: OpRestore} }

// Pen applies the configured pen limits.
func Pen() Instruction { return Instruction{Kind: OpPenConfig} }

// PenLimits applies explicit pen limits in %.
func PenLimits(down, up float64) Instruction {
	return Instruction{Kind: OpPenConfig, Down: &down, Up: &up}
}

// Move is an absolute move in world units.
func Move(x, y float64) Instruction {
	return Instruction{Kind: OpMoveTo, To: geometry.Vec{X: x, Y: y}}
}

// MoveTo is Move for a point.
func MoveTo(p geometry.Vec) Instruction {
	return Instruction{Kind: OpMoveTo, To: p}
}

// MoveRel is a relative move in world units.
func MoveRel(dx, dy float64) Instruction {
	return Instruction{Kind: OpMoveRel, To: geometry.Vec{X: dx, Y: dy}}
}

// Wait pauses for ms milliseconds.
func Wait(ms int) Instruction { return Instruction{Kind: OpWait, Ms: ms} }

// Comment is logged and otherwise ignored.
func Comment(text string) Instruction { return Instruction{Kind: OpComment, Text: text} }

// Program is an ordered instruction sequence.
type Program []Instruction

// Complete wraps p with the start and stop sequences.
func Complete(p Program) Program {
	out := make(Program, 0, len(p)+2)
	out = append(out, Start())
	out = append(out, p...)
	return append(out, Stop())
}

// DefaultStart is the start sequence: motors on, pen setup, pen up.
func DefaultStart() Program {
	return Program{MotorOn(), Pen(), Up()}
}

// DefaultStop is the stop sequence: pen up, home, motors off.
func DefaultStop() Program {
	return Program{Up(), Home(), MotorOff()}
}
