// Package plotter ties a serial connection to a draw engine: it finds and
// opens the controller board and guards drawing behind a live connection.
package plotter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cjeanneret/PlotGo/internal/clock"
	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/hw/ebb"
	"github.com/cjeanneret/PlotGo/internal/hw/serial"
	"github.com/cjeanneret/PlotGo/internal/logic/draw"
	"github.com/cjeanneret/PlotGo/internal/logic/geometry"
	"github.com/cjeanneret/PlotGo/internal/program"
)

var (
	// ErrNoDevice is returned by Connect when no port matches.
	ErrNoDevice = errors.New("no matching plotter port")
	// ErrNotConnected is returned when drawing before Connect.
	ErrNotConnected = errors.New("plotter not connected")
)

// Device is one plotter. Draw, Emergency and Disconnect serialize on the
// device: Emergency waits for a running draw to return.
type Device struct {
	transport serial.Transport
	clock     clock.Clock
	baud      int

	mu     sync.Mutex
	cfg    draw.Config
	signal control.Signal
	path   string
	port   serial.Port
	link   *ebb.Link
	engine *draw.Engine
}

// New creates a disconnected device. A nil clock uses real time.
func New(t serial.Transport, clk clock.Clock, cfg draw.Config, baud int) *Device {
	if clk == nil {
		clk = clock.Real{}
	}
	if baud <= 0 {
		baud = serial.DefaultBaudRate
	}
	return &Device{transport: t, clock: clk, cfg: cfg, baud: baud}
}

// Connect opens the first port whose path starts with prefix.
func (d *Device) Connect(ctx context.Context, prefix string) error {
	return d.connect(ctx, func(p string) bool { return strings.HasPrefix(p, prefix) }, prefix)
}

// ConnectMatch opens the first port whose path matches re.
func (d *Device) ConnectMatch(ctx context.Context, re *regexp.Regexp) error {
	return d.connect(ctx, re.MatchString, re.String())
}

func (d *Device) connect(ctx context.Context, match func(string) bool, desc string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ports, err := d.transport.List("")
	if err != nil {
		return err
	}
	path := ""
	for _, p := range ports {
		if match(p) {
			path = p
			break
		}
	}
	if path == "" {
		return fmt.Errorf("%w: %q (available: %s)", ErrNoDevice, desc, strings.Join(ports, ", "))
	}

	port, err := d.transport.Open(path, d.baud)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		d.closeLocked()
	}
	d.path = path
	d.port = port
	d.link = ebb.NewLink(port)
	d.engine = draw.New(d.link, d.clock, d.cfg)
	d.engine.SetSignal(d.signal)
	debug.Info("Connected to %s", path)
	return nil
}

// Connected reports whether a port is open.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine != nil
}

// Path returns the open port path, or "".
func (d *Device) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Configure replaces the engine configuration, applied immediately when
// connected.
func (d *Device) Configure(cfg draw.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if d.engine != nil {
		d.engine.Configure(cfg)
	}
}

// SetSignal sets the control signal sampled during draws.
func (d *Device) SetSignal(s control.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signal = s
	if d.engine != nil {
		d.engine.SetSignal(s)
	}
}

// Draw runs prog on the plotter.
func (d *Device) Draw(ctx context.Context, prog program.Program, opts draw.Options) (draw.Metrics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return draw.Metrics{}, ErrNotConnected
	}
	return d.engine.Draw(ctx, prog, opts)
}

// Draw1 runs a single instruction without the start and stop sequences.
func (d *Device) Draw1(ctx context.Context, in program.Instruction) (draw.Metrics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return draw.Metrics{}, ErrNotConnected
	}
	return d.engine.Draw1(ctx, in)
}

// Position returns the carriage position in steps.
func (d *Device) Position() geometry.Vec {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return geometry.Origin
	}
	return d.engine.Motion().Position()
}

// Emergency raises the pen without delay and turns the motors off. It is a
// no-op when not connected.
func (d *Device) Emergency() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return nil
	}
	debug.Warn("Emergency stop")
	return errors.Join(d.engine.Pen().Park(), d.engine.Motion().DisableMotors())
}

// Disconnect closes the port.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	return d.closeLocked()
}

func (d *Device) closeLocked() error {
	err := d.port.Close()
	debug.Info("Disconnected from %s (%d commands sent)", d.path, d.link.Sent())
	d.path, d.port, d.link, d.engine = "", nil, nil, nil
	return err
}
