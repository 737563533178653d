package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/PlotGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives the Raspberry Pi header through go-rpio. The plotter
// only reads the pause switch and cancel button with it; the EBB drives
// the steppers and the servo.
type RPiDriver struct {
	mu    sync.Mutex
	pins  map[int]PinMode
	fresh bool
}

// NewRPiRealDriver maps the GPIO registers. Needs /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	return &RPiDriver{pins: make(map[int]PinMode), fresh: true}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("pin %d: unknown mode %d", pin, mode)
	}

	r.mu.Lock()
	r.pins[pin] = mode
	r.mu.Unlock()
	return nil
}

func (r *RPiDriver) mode(pin int) (PinMode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pins[pin]
	return m, ok
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	if m, ok := r.mode(pin); !ok || m != Output {
		return fmt.Errorf("pin %d: not set up as output", pin)
	}
	debug.GPIO("WritePin", pin, level)
	if level == High {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	if _, ok := r.mode(pin); !ok {
		return Low, fmt.Errorf("pin %d: not set up", pin)
	}
	level := Level(rpio.Pin(pin).Read() == rpio.High)
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// Close returns every used pin to a floating input and unmaps the
// registers.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fresh {
		return nil
	}
	r.fresh = false
	for pin := range r.pins {
		p := rpio.Pin(pin)
		p.Input()
		p.PullOff()
	}
	debug.Verbose("GPIO released (%d pins)", len(r.pins))
	return rpio.Close()
}
