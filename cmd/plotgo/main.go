package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"

	"github.com/cjeanneret/PlotGo/internal/clock"
	"github.com/cjeanneret/PlotGo/internal/config"
	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/cjeanneret/PlotGo/internal/hw/gpio"
	"github.com/cjeanneret/PlotGo/internal/hw/serial"
	"github.com/cjeanneret/PlotGo/internal/logic/draw"
	"github.com/cjeanneret/PlotGo/internal/plotter"
	"github.com/cjeanneret/PlotGo/internal/program"
	"github.com/cjeanneret/PlotGo/internal/web"
)

const defaultConfigPath = "configs/default.yaml"

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for the configured port, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.FromSlash(defaultConfigPath), "path to config file")
	device := flag.String("device", "", "serial port path prefix (overrides config)")
	debugLevel := flag.Int("debug", -1, "debug level 0-4 (overrides config)")
	list := flag.Bool("list", false, "list serial ports and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [program.yaml|program.json]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*cfgPath, *cfgPath != filepath.FromSlash(defaultConfigPath))
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyFlags(cfg, *device, *debugLevel, webPort); err != nil {
		log.Fatalf("invalid flag: %v", err)
	}

	debug.Init(cfg.DebugLevel)
	defer debug.Sync()
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.DebugLevel)
	debug.Value("Mock serial", cfg.MockSerial)

	transport := serial.NewTransport(cfg.MockSerial)
	if *list {
		if err := listPorts(os.Stdout, transport, ""); err != nil {
			log.Fatalf("list ports: %v", err)
		}
		return
	}

	progPath := flag.Arg(0)
	if progPath == "" && webPort.port() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	debug.Step(1, "Initializing controls")
	ctrl := control.New()
	sig, closeGPIO, err := newSignal(cfg, ctrl)
	if err != nil {
		log.Fatalf("init controls failed: %v", err)
	}
	defer closeGPIO()

	debug.Step(2, "Connecting to plotter")
	dev, err := openDevice(ctx, cfg, transport, clock.Real{})
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	dev.SetSignal(sig)
	defer func() {
		if err := dev.Disconnect(); err != nil {
			log.Printf("disconnect failed: %v", err)
		}
	}()

	if port := webPort.port(); port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, dev.Draw, ctrl, penDefaults(cfg))
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		srv.Handlers().SetSignal(sig)
		err = srv.Run(ctx)
		emergencyOnInterrupt(ctx, dev)
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	debug.Step(3, "Drawing "+progPath)
	_, err = runProgram(ctx, dev, progPath)
	emergencyOnInterrupt(ctx, dev)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("draw failed: %v", err)
	}
}

// loadConfig reads the config file. The default path may be missing, in
// which case built-in defaults are used; an explicit path must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	return config.Load(path)
}

// applyFlags overrides config values set on the command line. Empty device
// and negative debug level leave the config unchanged.
func applyFlags(cfg *config.Config, device string, debugLevel int, webPort *webPortFlag) error {
	if device != "" {
		cfg.Serial.Device = device
		cfg.Serial.Pattern = ""
	}
	if debugLevel >= 0 {
		if debugLevel > debug.LevelTrace {
			return fmt.Errorf("debug must be between 0 and %d, got %d", debug.LevelTrace, debugLevel)
		}
		cfg.DebugLevel = debugLevel
	}
	if webPort != nil && webPort.useConfig {
		webPort.val = cfg.Web.Port
	}
	return nil
}

// newSignal combines the software control with the GPIO buttons when pins
// are configured. The returned cleanup is always safe to call.
func newSignal(cfg *config.Config, ctrl *control.Control) (control.Signal, func(), error) {
	if cfg.Control.PausePin < 0 && cfg.Control.CancelPin < 0 {
		return ctrl, func() {}, nil
	}
	drv, err := gpio.NewDriver(cfg.MockGPIO)
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := func() {
		if err := drv.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}
	buttons, err := control.NewButtons(drv, cfg.Control.PausePin, cfg.Control.CancelPin)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	debug.Value("Pause pin", cfg.Control.PausePin)
	debug.Value("Cancel pin", cfg.Control.CancelPin)
	return control.Any(ctrl, buttons), cleanup, nil
}

// openDevice builds the device and connects it by pattern or prefix.
func openDevice(ctx context.Context, cfg *config.Config, t serial.Transport, clk clock.Clock) (*plotter.Device, error) {
	ec, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	dev := plotter.New(t, clk, ec, cfg.Serial.Baud)
	if cfg.Serial.Pattern != "" {
		re, err := regexp.Compile(cfg.Serial.Pattern)
		if err != nil {
			return nil, fmt.Errorf("serial pattern: %w", err)
		}
		return dev, dev.ConnectMatch(ctx, re)
	}
	device := cfg.Serial.Device
	if cfg.MockSerial {
		device = "/dev/mock"
	}
	return dev, dev.Connect(ctx, device)
}

// runProgram loads a program file and draws it wrapped in the start and
// stop sequences.
func runProgram(ctx context.Context, dev *plotter.Device, path string) (draw.Metrics, error) {
	prog, err := program.Load(path)
	if err != nil {
		return draw.Metrics{}, err
	}
	debug.Info("Loaded %d instructions from %s", len(prog), path)
	return dev.Draw(ctx, prog, draw.DefaultOptions())
}

// emergencyOnInterrupt turns the motors off after an interrupted run. The
// draw has already raised the pen by then.
func emergencyOnInterrupt(ctx context.Context, dev *plotter.Device) {
	if ctx.Err() == nil {
		return
	}
	if err := dev.Emergency(); err != nil {
		log.Printf("emergency stop failed: %v", err)
	}
}

func listPorts(w io.Writer, t serial.Transport, filter string) error {
	ports, err := t.List(filter)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

func penDefaults(cfg *config.Config) web.PenDefaults {
	return web.PenDefaults{
		Up:        cfg.Pen.Up,
		Down:      cfg.Pen.Down,
		UpRate:    cfg.Pen.UpRate,
		DownRate:  cfg.Pen.DownRate,
		DelayUp:   cfg.Pen.DelayUp,
		DelayDown: cfg.Pen.DelayDown,
		Penlift:   cfg.Variant().String(),
		SpeedUp:   cfg.Plotter.SpeedUp,
		SpeedDown: cfg.Plotter.SpeedDown,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= → port
// from config, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
	useConfig   bool
}

func (w *webPortFlag) String() string {
	if w == nil || w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		w.useConfig = true
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	w.useConfig = false
	return nil
}

func (w *webPortFlag) port() int { return w.val }
