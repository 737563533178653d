package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/PlotGo/internal/clock"
	"github.com/cjeanneret/PlotGo/internal/config"
	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/hw/serial"
	"github.com/cjeanneret/PlotGo/internal/plotter"
)

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyUsesConfigPort(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatal(err)
	}
	if w.port() != 8080 {
		t.Errorf("port = %d, want 8080", w.port())
	}
	cfg := config.Default()
	cfg.Web.Port = 9191
	if err := applyFlags(cfg, "", -1, w); err != nil {
		t.Fatal(err)
	}
	if w.port() != 9191 {
		t.Errorf("port = %d, want config port 9191", w.port())
	}
}

func TestWebPortFlag_ExplicitPort(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set("8980"); err != nil {
		t.Fatal(err)
	}
	if err := applyFlags(config.Default(), "", -1, w); err != nil {
		t.Fatal(err)
	}
	if w.port() != 8980 {
		t.Errorf("port = %d, want 8980", w.port())
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyFlags / loadConfig ----------

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Pattern = "ttyACM"
	if err := applyFlags(cfg, "/dev/ttyUSB", 3, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Serial.Device != "/dev/ttyUSB" || cfg.Serial.Pattern != "" {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.DebugLevel != 3 {
		t.Errorf("debug = %d", cfg.DebugLevel)
	}

	before := *cfg
	if err := applyFlags(cfg, "", -1, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Serial != before.Serial || cfg.DebugLevel != before.DebugLevel {
		t.Error("zero flags should leave config unchanged")
	}
	if err := applyFlags(cfg, "", 7, nil); err == nil {
		t.Error("debug 7 should be rejected")
	}
}

func TestLoadConfig_MissingDefaultFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "default.yaml")
	cfg, err := loadConfig(path, false)
	if err != nil {
		t.Fatalf("missing default config should fall back, got %v", err)
	}
	if cfg.Pen.Up != 60 {
		t.Errorf("pen.up = %v", cfg.Pen.Up)
	}
	if _, err := loadConfig(path, true); err == nil {
		t.Error("missing explicit config should fail")
	}
}

func TestLoadConfig_RejectsPathOutsideConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plotter.yaml")
	if err := os.WriteFile(path, []byte("pen:\n  up: 70\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path, true); err == nil {
		t.Error("expected path validation error")
	}
}

// ---------- listPorts ----------

func TestListPorts(t *testing.T) {
	var buf bytes.Buffer
	if err := listPorts(&buf, serial.NewMock("/dev/ttyACM0", "/dev/ttyACM1"), ""); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "/dev/ttyACM0\n/dev/ttyACM1\n" {
		t.Errorf("output = %q", buf.String())
	}
	buf.Reset()
	if err := listPorts(&buf, serial.NewMock(), ""); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "no serial ports found\n" {
		t.Errorf("output = %q", buf.String())
	}
}

// ---------- openDevice / runProgram ----------

func mockConfig() *config.Config {
	cfg := config.Default()
	cfg.MockSerial = true
	return cfg
}

func TestOpenDevice_Mock(t *testing.T) {
	dev, err := openDevice(context.Background(), mockConfig(), serial.NewTransport(true), clock.NewVirtual(time.Unix(0, 0)))
	if err != nil {
		t.Fatal(err)
	}
	if dev.Path() != "/dev/mock0" {
		t.Errorf("path = %q", dev.Path())
	}
}

func TestOpenDevice_Pattern(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Pattern = `usbmodem\d+`
	mock := serial.NewMock("/dev/ttyS0", "/dev/cu.usbmodem14201")
	dev, err := openDevice(context.Background(), cfg, mock, clock.NewVirtual(time.Unix(0, 0)))
	if err != nil {
		t.Fatal(err)
	}
	if dev.Path() != "/dev/cu.usbmodem14201" {
		t.Errorf("path = %q", dev.Path())
	}
}

func TestOpenDevice_NoPort(t *testing.T) {
	_, err := openDevice(context.Background(), config.Default(), serial.NewMock("/dev/ttyS0"), clock.NewVirtual(time.Unix(0, 0)))
	if !errors.Is(err, plotter.ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
}

func TestRunProgram(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "square.yaml")
	yaml := `
- {op: move, to: [0, 0]}
- down
- {op: move, to: [10, 0]}
- {op: move, to: [10, 10]}
- {op: move, to: [0, 10]}
- {op: move, to: [0, 0]}
- up
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := serial.NewMock("/dev/mock0")
	dev, err := openDevice(context.Background(), mockConfig(), mock, clock.NewVirtual(time.Unix(0, 0)))
	if err != nil {
		t.Fatal(err)
	}
	m, err := runProgram(context.Background(), dev, path)
	if err != nil {
		t.Fatal(err)
	}
	if m.DrawDist != 40 || m.TotalDist != 40 {
		t.Errorf("distances = %v / %v, want 40 / 40", m.DrawDist, m.TotalDist)
	}
	sent := mock.Last().Sent()
	if sent[0] != "EM,1,1\r" || sent[len(sent)-1] != "EM,0,0\r" {
		t.Errorf("program should be wrapped, sent %q", sent)
	}
}

func TestEmergencyOnInterrupt(t *testing.T) {
	mock := serial.NewMock("/dev/mock0")
	dev, err := openDevice(context.Background(), mockConfig(), mock, clock.NewVirtual(time.Unix(0, 0)))
	if err != nil {
		t.Fatal(err)
	}

	emergencyOnInterrupt(context.Background(), dev)
	if n := len(mock.Last().Sent()); n != 0 {
		t.Errorf("no emergency expected without interrupt, sent %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emergencyOnInterrupt(ctx, dev)
	sent := mock.Last().Sent()
	if len(sent) != 2 || sent[0] != "SP,1,0,1\r" || sent[1] != "EM,0,0\r" {
		t.Errorf("emergency sent %q", sent)
	}
}

func TestNewSignal(t *testing.T) {
	ctrl := control.New()
	sig, cleanup, err := newSignal(config.Default(), ctrl)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	ctrl.Pause()
	if sig.State() != control.Pause {
		t.Errorf("state = %v", sig.State())
	}

	cfg := config.Default()
	cfg.Control.CancelPin = 21
	sig, cleanup2, err := newSignal(cfg, control.New())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup2()
	if sig.State() != control.Continue {
		t.Errorf("idle buttons state = %v", sig.State())
	}
}
