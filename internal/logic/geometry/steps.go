package geometry

// Scaler converts world-space coordinates to motor steps and back.
type Scaler struct {
	scale float64 // steps per world unit
	home  Vec     // home offset, in steps
}

// NewScaler creates a scaler from the hardware resolution (steps per inch),
// the world unit size (units per inch, 25.4 for millimeters) and the home
// offset expressed in world units.
func NewScaler(stepsPerInch, unitsPerInch float64, home Vec) Scaler {
	scale := stepsPerInch / unitsPerInch
	return Scaler{
		scale: scale,
		home:  home.Scale(scale),
	}
}

// Scale returns the number of steps per world unit.
func (s Scaler) Scale() float64 {
	return s.scale
}

// Home returns the home offset in steps.
func (s Scaler) Home() Vec {
	return s.home
}

// Absolute converts an absolute world position to steps, shifted by the
// home offset.
func (s Scaler) Absolute(p Vec) Vec {
	return p.Scale(s.scale).Add(s.home)
}

// Relative converts a world-space delta to steps, applied to pos (already in
// steps).
func (s Scaler) Relative(delta, pos Vec) Vec {
	return delta.Scale(s.scale).Add(pos)
}

// ToUnits converts a step count back to world units.
func (s Scaler) ToUnits(steps float64) float64 {
	return steps / s.scale
}

// RectToSteps converts a world-space rectangle to steps. The home offset is
// not applied: bounds describe the physical travel limits of the machine.
func (s Scaler) RectToSteps(r Rect) Rect {
	return Rect{Min: r.Min.Scale(s.scale), Max: r.Max.Scale(s.scale)}
}
