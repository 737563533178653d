package ebb

import (
	"fmt"
	"io"

	"github.com/cjeanneret/PlotGo/internal/debug"
)

// Link sends commands to the board in order. It is not safe for concurrent
// use: the board is a stateful peer and there is exactly one writer.
type Link struct {
	w    io.Writer
	sent int
}

// NewLink wraps the writer side of a serial connection.
func NewLink(w io.Writer) *Link {
	return &Link{w: w}
}

// Send writes a single command line.
func (l *Link) Send(cmd string) error {
	debug.Serial("tx", cmd)
	if _, err := io.WriteString(l.w, cmd); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	l.sent++
	return nil
}

// SendAll writes commands in order, stopping at the first failure.
func (l *Link) SendAll(cmds []string) error {
	for _, c := range cmds {
		if err := l.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// Sent returns the number of commands written successfully.
func (l *Link) Sent() int {
	return l.sent
}
