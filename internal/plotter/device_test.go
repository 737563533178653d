package plotter

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/cjeanneret/PlotGo/internal/clock"
	"github.com/cjeanneret/PlotGo/internal/config"
	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/hw/serial"
	"github.com/cjeanneret/PlotGo/internal/logic/draw"
	"github.com/cjeanneret/PlotGo/internal/program"
)

func newDevice(t *testing.T, ports ...string) (*Device, *serial.Mock) {
	t.Helper()
	cfg, err := config.Default().Engine()
	if err != nil {
		t.Fatal(err)
	}
	mock := serial.NewMock(ports...)
	return New(mock, clock.NewVirtual(time.Unix(0, 0)), cfg, 0), mock
}

func TestConnect_NoDevice(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyS0")
	err := d.Connect(context.Background(), "/dev/tty.usbmodem")
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
	if mock.Last() != nil {
		t.Error("no port should have been opened")
	}
	if d.Connected() {
		t.Error("device should stay disconnected")
	}
}

func TestConnect_FirstPrefixMatch(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyS0", "/dev/tty.usbmodem1421", "/dev/tty.usbmodem1422")
	if err := d.Connect(context.Background(), "/dev/tty.usbmodem"); err != nil {
		t.Fatal(err)
	}
	if d.Path() != "/dev/tty.usbmodem1421" {
		t.Errorf("path = %q", d.Path())
	}
	if p := mock.Last(); p.Baud != serial.DefaultBaudRate {
		t.Errorf("baud = %d, want %d", p.Baud, serial.DefaultBaudRate)
	}
	if len(mock.Last().Sent()) != 0 {
		t.Errorf("connect must not send commands, got %q", mock.Last().Sent())
	}
}

func TestConnectMatch(t *testing.T) {
	d, _ := newDevice(t, "/dev/ttyS0", "/dev/ttyACM3")
	if err := d.ConnectMatch(context.Background(), regexp.MustCompile(`ttyACM\d+$`)); err != nil {
		t.Fatal(err)
	}
	if d.Path() != "/dev/ttyACM3" {
		t.Errorf("path = %q", d.Path())
	}
}

func TestConnect_ContextDone(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyACM0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Connect(ctx, "/dev/ttyACM"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if mock.Last() != nil {
		t.Error("no port should have been opened")
	}
}

func TestDraw_NotConnected(t *testing.T) {
	d, _ := newDevice(t, "/dev/ttyACM0")
	if _, err := d.Draw(context.Background(), program.Program{program.Move(1, 1)}, draw.DefaultOptions()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Draw err = %v", err)
	}
	if _, err := d.Draw1(context.Background(), program.Up()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Draw1 err = %v", err)
	}
	if err := d.Emergency(); err != nil {
		t.Errorf("Emergency when disconnected = %v", err)
	}
}

func TestDraw1_SendsToPort(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyACM0")
	if err := d.Connect(context.Background(), "/dev/ttyACM"); err != nil {
		t.Fatal(err)
	}
	m, err := d.Draw1(context.Background(), program.Move(10, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(mock.Last().Sent(), []string{"XM,200,800,0\r"}) {
		t.Errorf("sent = %q", mock.Last().Sent())
	}
	if m.Commands != 1 || m.TotalDist != 10 {
		t.Errorf("metrics = %+v", m)
	}
	if p := d.Position(); p.X != 800 || p.Y != 0 {
		t.Errorf("position = %+v", p)
	}
}

func TestDraw_WrappedAndSignal(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyACM0")
	c := control.New()
	d.SetSignal(c)
	if err := d.Connect(context.Background(), "/dev/ttyACM"); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Draw(context.Background(), program.Program{program.Down()}, draw.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	sent := mock.Last().Sent()
	if sent[0] != "EM,1,1\r" || sent[len(sent)-1] != "EM,0,0\r" {
		t.Errorf("wrapped draw = %q", sent)
	}

	c.Cancel()
	before := len(mock.Last().Sent())
	m, err := d.Draw(context.Background(), program.Program{program.Move(5, 5)}, draw.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Commands != 1 {
		t.Errorf("commands = %d, want 1", m.Commands)
	}
	// Pen is already up after the stop sequence: nothing more to send.
	if got := len(mock.Last().Sent()); got != before {
		t.Errorf("cancelled draw sent %q", mock.Last().Sent()[before:])
	}
}

func TestEmergency(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyACM0")
	if err := d.Connect(context.Background(), "/dev/ttyACM"); err != nil {
		t.Fatal(err)
	}
	if err := d.Emergency(); err != nil {
		t.Fatal(err)
	}
	want := []string{"SP,1,0,1\r", "EM,0,0\r"}
	if !reflect.DeepEqual(mock.Last().Sent(), want) {
		t.Errorf("sent = %q, want %q", mock.Last().Sent(), want)
	}
}

func TestDisconnect(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyACM0")
	if err := d.Connect(context.Background(), "/dev/ttyACM"); err != nil {
		t.Fatal(err)
	}
	port := mock.Last()
	if err := d.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if !port.Closed() {
		t.Error("port should be closed")
	}
	if _, err := d.Draw1(context.Background(), program.Up()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Draw1 after disconnect = %v", err)
	}
	if err := d.Disconnect(); err != nil {
		t.Errorf("second Disconnect = %v", err)
	}
}

func TestReconnect_ClosesPrevious(t *testing.T) {
	d, mock := newDevice(t, "/dev/ttyACM0")
	if err := d.Connect(context.Background(), "/dev/ttyACM"); err != nil {
		t.Fatal(err)
	}
	first := mock.Last()
	if err := d.Connect(context.Background(), "/dev/ttyACM"); err != nil {
		t.Fatal(err)
	}
	if !first.Closed() {
		t.Error("first port should be closed on reconnect")
	}
	if mock.Last() == first {
		t.Error("expected a new port")
	}
}
