package serial

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cjeanneret/PlotGo/internal/debug"
)

// ErrClosed is returned when writing to a closed mock port.
var ErrClosed = errors.New("port closed")

// Mock is an in-memory transport. Every opened port records the lines
// written to it.
type Mock struct {
	Ports []string

	mu     sync.Mutex
	opened []*MockPort
}

// NewMock creates a mock transport exposing the given port paths.
func NewMock(ports ...string) *Mock {
	return &Mock{Ports: ports}
}

// List returns mock port paths containing filter.
func (m *Mock) List(filter string) ([]string, error) {
	var out []string
	for _, p := range m.Ports {
		if filter == "" || strings.Contains(p, filter) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Open returns a recording port.
func (m *Mock) Open(path string, baud int) (Port, error) {
	found := false
	for _, p := range m.Ports {
		if p == path {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("open %s: no such port", path)
	}
	p := &MockPort{Path: path, Baud: baud}
	m.mu.Lock()
	m.opened = append(m.opened, p)
	m.mu.Unlock()
	debug.Info("Mock serial port %s opened", path)
	return p, nil
}

// Last returns the most recently opened port, or nil.
func (m *Mock) Last() *MockPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opened) == 0 {
		return nil
	}
	return m.opened[len(m.opened)-1]
}

// MockPort records each write as one line.
type MockPort struct {
	Path string
	Baud int

	mu     sync.Mutex
	sent   []string
	closed bool
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	p.sent = append(p.sent, string(b))
	return len(b), nil
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded lines.
func (p *MockPort) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Closed reports whether Close was called.
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
