// Package serial provides the link to the plotter's controller board.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	goserial "go.bug.st/serial"

	"github.com/cjeanneret/PlotGo/internal/debug"
)

// DefaultBaudRate is the EBB's USB CDC rate.
const DefaultBaudRate = 38400

// Port is an open link. Commands are written as ASCII lines.
type Port interface {
	io.Writer
	io.Closer
}

// Transport lists and opens ports. It allows plugging in real hardware or
// a mock for development on PC.
type Transport interface {
	List(filter string) ([]string, error)
	Open(path string, baud int) (Port, error)
}

// NewTransport returns the real transport, or a Mock when mock is true.
func NewTransport(mock bool) Transport {
	if mock {
		debug.Info("Using MOCK serial transport (development mode)")
		return NewMock("/dev/mock0")
	}
	return System{}
}

// System is the OS serial transport.
type System struct{}

// List returns the OS port names containing filter (all when empty).
func (System) List(filter string) ([]string, error) {
	ports, err := goserial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	var out []string
	for _, p := range ports {
		if filter == "" || strings.Contains(p, filter) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Open opens path at baud (8N1) and starts watching board responses.
func (System) Open(path string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	p, err := goserial.Open(path, &goserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	debug.Info("Serial port %s opened at %d baud", path, baud)

	sp := &systemPort{port: p, done: make(chan struct{})}
	go func() {
		defer close(sp.done)
		scanResponses(p)
	}()
	return sp, nil
}

type systemPort struct {
	port goserial.Port
	done chan struct{}
	once sync.Once
}

func (s *systemPort) Write(b []byte) (int, error) {
	return s.port.Write(b)
}

func (s *systemPort) Close() error {
	var err error
	s.once.Do(func() {
		err = s.port.Close()
		<-s.done
	})
	return err
}

// scanResponses reads board replies until r fails. Anything other than an
// acknowledgement is reported; it never affects the command stream.
func scanResponses(r io.Reader) (unexpected int) {
	sc := bufio.NewScanner(r)
	sc.Split(scanCRLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		debug.Serial("rx", line)
		if line != "OK" {
			unexpected++
			debug.Warn("unexpected response from board: %q", line)
		}
	}
	return unexpected
}

// scanCRLF splits on '\r' or '\n'.
func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
