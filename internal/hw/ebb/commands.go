// Package ebb encodes commands for the EiBotBoard (EBB) stepper/servo
// controller. Every command is a single ASCII line terminated by '\r'.
//
// Reference: http://evil-mad.github.io/EggBot/ebb.html
package ebb

import "strconv"

// Terminator ends every command line.
const Terminator = "\r"

// Servo configuration channels for the SC command.
const (
	ChannelUpPosition   = 4
	ChannelDownPosition = 5
	ChannelPWMChannels  = 8
	ChannelUpRate       = 11
	ChannelDownRate     = 12
)

// Pen states for the SP command.
const (
	PenDownState = 0
	PenUpState   = 1
)

// EnableMotors builds "EM,<m1>,<m2>". 0 disables a motor, 1 enables it at
// full 16x microstepping.
func EnableMotors(m1, m2 int) string {
	return "EM," + strconv.Itoa(m1) + "," + strconv.Itoa(m2) + Terminator
}

// MotorsOn enables both motors.
func MotorsOn() string { return EnableMotors(1, 1) }

// MotorsOff disables both motors.
func MotorsOff() string { return EnableMotors(0, 0) }

// Reset builds the absolute reset command "R".
func Reset() string { return "R" + Terminator }

// Move builds "XM,<duration>,<dx>,<dy>". All fields are truncated toward
// zero.
func Move(durationMs, dx, dy float64) string {
	return "XM," + itoa(durationMs) + "," + itoa(dx) + "," + itoa(dy) + Terminator
}

// Pen builds "SP,<state>,<delay>[,<pin>]". A negative pin omits the pin
// field.
func Pen(state, delayMs, pin int) string {
	s := "SP," + strconv.Itoa(state) + "," + strconv.Itoa(delayMs)
	if pin >= 0 {
		s += "," + strconv.Itoa(pin)
	}
	return s + Terminator
}

// PenUp raises the pen on the given servo pin.
func PenUp(delayMs, pin int) string { return Pen(PenUpState, delayMs, pin) }

// PenDown lowers the pen on the given servo pin.
func PenDown(delayMs, pin int) string { return Pen(PenDownState, delayMs, pin) }

// ServoConfig builds "SC,<channel>,<value>".
func ServoConfig(channel, value int) string {
	return "SC," + strconv.Itoa(channel) + "," + strconv.Itoa(value) + Terminator
}

// PowerTimeout builds "SR,<ms>" for the servo power-down timeout.
func PowerTimeout(ms int) string {
	return "SR," + strconv.Itoa(ms) + Terminator
}

func itoa(f float64) string {
	return strconv.FormatInt(int64(f), 10)
}
