// Package draw executes drawing programs: it dispatches each instruction
// to the pen and motion controllers, honours pause and cancel requests
// between instructions and accumulates metrics.
package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PlotGo/internal/clock"
	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/logic/motion"
	"github.com/cjeanneret/PlotGo/internal/logic/pen"
	"github.com/cjeanneret/PlotGo/internal/logic/servo"
	"github.com/cjeanneret/PlotGo/internal/program"
)

var (
	// ErrUnknownInstruction is returned for an instruction kind the engine
	// cannot execute. The draw stops and its metrics are discarded.
	ErrUnknownInstruction = errors.New("unknown instruction")
	// ErrSequenceDepth is returned when start/stop sequences expand into
	// themselves.
	ErrSequenceDepth = errors.New("start/stop sequences nested too deeply")

	// errCancelled carries a Cancel seen inside a start/stop sequence out
	// to the enclosing loop. Draw turns it into a nil error.
	errCancelled = errors.New("draw cancelled")
)

// maxDepth bounds start/stop expansion.
const maxDepth = 8

// Sender writes protocol commands in order.
type Sender interface {
	Send(cmd string) error
}

// Config gathers everything the engine needs.
type Config struct {
	Hardware servo.Hardware
	Servo    servo.Settings
	Motion   motion.Config
	PreDelay int           // ms subtracted from every wait
	Refresh  time.Duration // pause polling interval
	Start    program.Program
	Stop     program.Program
}

// Options control a single Draw call.
type Options struct {
	Wrap        bool // surround the program with Start and Stop
	ShowMetrics bool // log a summary at the end
}

// DefaultOptions wraps and logs metrics.
func DefaultOptions() Options {
	return Options{Wrap: true, ShowMetrics: true}
}

// Metrics summarises a draw.
type Metrics struct {
	Duration    time.Duration `json:"duration"`
	Commands    int           `json:"commands"`     // instructions processed
	PenCommands int           `json:"pen_commands"` // PenUp/PenDown instructions
	TotalDist   float64       `json:"total_dist"`   // world units
	DrawDist    float64       `json:"draw_dist"`    // world units with pen down
}

// Fold adds the counts and distances of sub. Duration is not folded: the
// caller's elapsed time already covers nested draws.
func (m Metrics) Fold(sub Metrics) Metrics {
	m.Commands += sub.Commands
	m.PenCommands += sub.PenCommands
	m.TotalDist += sub.TotalDist
	m.DrawDist += sub.DrawDist
	return m
}

// Engine owns the pen and motion state of one device. Draw must not be
// called concurrently.
type Engine struct {
	pen    *pen.Machine
	motion *motion.Controller
	clock  clock.Clock
	signal control.Signal
	cfg    Config
}

// New builds an engine writing to out.
func New(out Sender, clk clock.Clock, cfg Config) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	pm := pen.NewMachine(out, clk, cfg.Hardware, cfg.Servo, cfg.PreDelay)
	return &Engine{
		pen:    pm,
		motion: motion.NewController(out, pm, cfg.Motion),
		clock:  clk,
		cfg:    cfg,
	}
}

// Configure applies new settings. Pen limits and the save stack are reset
// to the configured values; the position is kept.
func (e *Engine) Configure(cfg Config) {
	e.cfg = cfg
	e.pen.Configure(cfg.Hardware, cfg.Servo, cfg.PreDelay)
	e.motion.Configure(cfg.Motion)
}

// SetSignal attaches the control signal sampled before each instruction.
// nil detaches it.
func (e *Engine) SetSignal(s control.Signal) { e.signal = s }

// Pen exposes the pen state machine.
func (e *Engine) Pen() *pen.Machine { return e.pen }

// Motion exposes the motion controller.
func (e *Engine) Motion() *motion.Controller { return e.motion }

// Draw executes prog. A Cancel signal stops early and returns the metrics
// so far with a nil error. Context cancellation behaves like Cancel but
// returns ctx.Err().
func (e *Engine) Draw(ctx context.Context, prog program.Program, opts Options) (Metrics, error) {
	m, err := e.draw(ctx, prog, opts, 0)
	if errors.Is(err, errCancelled) {
		err = nil
	}
	return m, err
}

// Draw1 executes a single instruction without wrapping.
func (e *Engine) Draw1(ctx context.Context, in program.Instruction) (Metrics, error) {
	return e.Draw(ctx, program.Program{in}, Options{ShowMetrics: true})
}

func (e *Engine) draw(ctx context.Context, prog program.Program, opts Options, depth int) (Metrics, error) {
	if depth > maxDepth {
		return Metrics{}, ErrSequenceDepth
	}
	if opts.Wrap {
		prog = program.Complete(prog)
	}

	var m Metrics
	t0 := e.clock.Now()
	var runErr error

	for i, in := range prog {
		m.Commands++

		stop, err := e.checkpoint(ctx)
		if err != nil {
			runErr = err
			break
		}
		if stop {
			debug.Info("Draw cancelled at instruction %d", i+1)
			runErr = errCancelled
			break
		}

		debug.Live("[%d/%d] %s", i+1, len(prog), in)
		wait, err := e.exec(ctx, in, &m, depth)
		if err != nil {
			if isContextErr(err) || errors.Is(err, errCancelled) {
				runErr = err
				break
			}
			return Metrics{}, err
		}

		if wait > 0 {
			wait = max(0, wait-float64(e.cfg.PreDelay))
			debug.Verbose("waiting %.0fms...", wait)
			e.clock.Sleep(time.Duration(wait * float64(time.Millisecond)))
		}
	}

	m.Duration = e.clock.Now().Sub(t0)
	if opts.ShowMetrics {
		logMetrics(m)
	}
	return m, runErr
}

// checkpoint samples the control signal. It blocks while paused, raising
// the pen for the pause and lowering it again on resume. It reports stop
// when the draw must end.
func (e *Engine) checkpoint(ctx context.Context) (stop bool, err error) {
	if err := ctx.Err(); err != nil {
		return true, e.abort(err)
	}
	if e.signal == nil {
		return false, nil
	}

	state := e.signal.State()
	if state == control.Pause {
		wasDown := e.pen.IsDown()
		if wasDown {
			if _, err := e.pen.Raise(pen.Override{}); err != nil {
				return true, err
			}
		}
		refresh := e.cfg.Refresh
		if refresh <= 0 {
			refresh = time.Second
		}
		debug.Info("Paused")
		for state == control.Pause {
			e.clock.Sleep(refresh)
			if err := ctx.Err(); err != nil {
				return true, e.abort(err)
			}
			state = e.signal.State()
		}
		if state == control.Continue {
			debug.Info("Resumed")
			if wasDown {
				if _, err := e.pen.Lower(pen.Override{}); err != nil {
					return true, err
				}
			}
		}
	}

	if state == control.Cancel {
		if _, err := e.pen.Raise(pen.Override{}); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// abort raises the pen and returns cause.
func (e *Engine) abort(cause error) error {
	if _, err := e.pen.Raise(pen.Override{}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// exec dispatches one instruction and returns the time to wait afterwards
// in ms (<= 0 for none).
func (e *Engine) exec(ctx context.Context, in program.Instruction, m *Metrics, depth int) (float64, error) {
	record := func(mv motion.Move) {
		m.TotalDist += mv.Distance
		if e.pen.IsDown() {
			m.DrawDist += mv.Distance
		}
	}

	switch in.Kind {
	case program.OpStart, program.OpStop:
		seq := e.cfg.Start
		if in.Kind == program.OpStop {
			seq = e.cfg.Stop
		}
		sub, err := e.draw(ctx, seq, Options{}, depth+1)
		*m = m.Fold(sub)
		if errors.Is(err, errCancelled) {
			return 0, errCancelled
		}
		if err != nil {
			return 0, fmt.Errorf("%s sequence: %w", in.Kind, err)
		}

	case program.OpHome:
		mv, err := e.motion.Home()
		if err != nil {
			return 0, err
		}
		record(mv)
		return mv.Duration, nil

	case program.OpReset:
		return 0, e.motion.Reset()

	case program.OpMotorOn:
		return 0, e.motion.EnableMotors()

	case program.OpMotorOff:
		return 0, e.motion.DisableMotors()

	case program.OpPenConfig:
		return 0, e.pen.Apply(in.Down, in.Up)

	case program.OpPenUp:
		m.PenCommands++
		_, err := e.pen.Raise(pen.Override{Delay: in.Delay, Level: in.Level})
		return 0, err

	case program.OpPenDown:
		m.PenCommands++
		_, err := e.pen.Lower(pen.Override{Delay: in.Delay, Level: in.Level})
		return 0, err

	case program.OpSave:
		e.pen.Save()

	case program.OpRestore:
		return 0, e.pen.Restore()

	case program.OpWait:
		return float64(in.Ms), nil

	case program.OpMoveTo:
		mv, err := e.motion.MoveTo(in.To, in.Speed)
		if err != nil {
			return 0, err
		}
		record(mv)
		return mv.Duration, nil

	case program.OpMoveRel:
		mv, err := e.motion.MoveRelative(in.To, in.Speed)
		if err != nil {
			return 0, err
		}
		record(mv)
		return mv.Duration, nil

	case program.OpComment:
		debug.Info("comment: %s", in.Text)

	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownInstruction, in.Kind)
	}
	return 0, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func logMetrics(m Metrics) {
	debug.Summary("Draw complete")
	debug.Value("total duration", m.Duration.Round(time.Millisecond))
	debug.Value("total commands", m.Commands)
	debug.Value("pen up/downs  ", m.PenCommands)
	debug.Value("total distance", fmt.Sprintf("%.2f", m.TotalDist))
	debug.Value("draw distance ", fmt.Sprintf("%.2f", m.DrawDist))
}
