// Package servo converts pen-lift settings expressed in percent into the
// controller's native units and estimates how long the servo takes to move.
package servo

import (
	"fmt"
	"math"
	"strings"

	"github.com/cjeanneret/PlotGo/internal/hw/ebb"
)

// Variant selects the pen-lift mechanism.
type Variant int

const (
	Standard   Variant = iota // hobby servo on pin 1, 8 PWM channels
	NarrowBand                // brushless narrow-band servo on pin 2
)

func (v Variant) String() string {
	switch v {
	case Standard:
		return "standard"
	case NarrowBand:
		return "narrow_band"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant accepts "standard" or "narrow_band" (also "narrow-band",
// "nb", "brushless").
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "std":
		return Standard, nil
	case "narrow_band", "narrow-band", "narrowband", "nb", "brushless":
		return NarrowBand, nil
	}
	return Standard, fmt.Errorf("unknown penlift variant %q", s)
}

// Hardware holds the constants of one lift mechanism.
type Hardware struct {
	Pin       int     `yaml:"pin" json:"pin"`
	Min       float64 `yaml:"min" json:"min"`               // position units at 0%
	Max       float64 `yaml:"max" json:"max"`               // position units at 100%
	SweepTime float64 `yaml:"sweep_time" json:"sweep_time"` // ms for a full 0-100% sweep
	MoveMin   float64 `yaml:"move_min" json:"move_min"`     // ms, fast-sweep intercept
	MoveSlope float64 `yaml:"move_slope" json:"move_slope"` // ms per %, fast-sweep slope
	Channels  int     `yaml:"channels" json:"channels"`     // PWM channel count
	PWMPeriod float64 `yaml:"pwm_period" json:"pwm_period"`
}

// DefaultHardware returns the factory constants for a variant.
func DefaultHardware(v Variant) Hardware {
	if v == NarrowBand {
		return Hardware{
			Pin:       2,
			Min:       5400,
			Max:       12600,
			SweepTime: 70,
			MoveMin:   20,
			MoveSlope: 1.28,
			Channels:  1,
			PWMPeriod: 0.03,
		}
	}
	return Hardware{
		Pin:       1,
		Min:       9855,
		Max:       27831,
		SweepTime: 200,
		MoveMin:   45,
		MoveSlope: 2.69,
		Channels:  8,
		PWMPeriod: 0.24,
	}
}

// Position maps 0-100% onto the native position range.
func (h Hardware) Position(pct float64) int {
	return int(math.Round(h.Min + (h.Max-h.Min)/100*pct))
}

// RateScale is the number of rate units per percent.
func (h Hardware) RateScale() float64 {
	if h.SweepTime <= 0 {
		return 0
	}
	return (h.Max - h.Min) * h.PWMPeriod / h.SweepTime
}

// Rate maps a 1-100% rate onto native rate units.
func (h Hardware) Rate(pct float64) int {
	return int(math.Round(h.RateScale() * pct))
}

// Settings are the user-facing pen-lift tunables.
type Settings struct {
	Up        float64 // %
	Down      float64 // %
	UpRate    float64 // %
	DownRate  float64 // %
	DelayUp   int     // ms added to every raise
	DelayDown int     // ms added to every lower
	Timeout   int     // ms before servo power-down
}

// TransitTime estimates, in whole ms, how long the servo needs to travel
// dist percent at the given rate. It is the 4th power mean of a fast-sweep
// model (slope*dist + min) and a slow-sweep model (dist*sweep/rate).
// Travel below 0.9% is treated as instantaneous.
func TransitTime(h Hardware, dist, rate float64) int {
	dist = math.Abs(dist)
	if dist < 0.9 {
		return 0
	}
	if rate < 1 {
		rate = 1
	}
	fast := h.MoveSlope*dist + h.MoveMin
	slow := h.SweepTime * dist / rate
	return int(math.Pow(math.Pow(fast, 4)+math.Pow(slow, 4), 0.25))
}

// Timing is the total raise and lower time in ms, delays included.
type Timing struct {
	Raise int
	Lower int
}

// ComputeTiming derives raise and lower times for the travel between s.Up
// and s.Down.
func ComputeTiming(h Hardware, s Settings) Timing {
	d := math.Abs(s.Up - s.Down)
	return Timing{
		Raise: max(0, TransitTime(h, d, s.UpRate)+s.DelayUp),
		Lower: max(0, TransitTime(h, d, s.DownRate)+s.DelayDown),
	}
}

// SetupCommands returns the servo configuration sequence: channel count,
// up and down positions, up and down rates, then the power timeout.
func SetupCommands(h Hardware, s Settings) []string {
	return []string{
		ebb.ServoConfig(ebb.ChannelPWMChannels, h.Channels),
		ebb.ServoConfig(ebb.ChannelUpPosition, h.Position(s.Up)),
		ebb.ServoConfig(ebb.ChannelDownPosition, h.Position(s.Down)),
		ebb.ServoConfig(ebb.ChannelUpRate, h.Rate(s.UpRate)),
		ebb.ServoConfig(ebb.ChannelDownRate, h.Rate(s.DownRate)),
		ebb.PowerTimeout(s.Timeout),
	}
}
