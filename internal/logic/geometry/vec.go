package geometry

import "math"

// Vec is a 2D point or delta. Depending on context it is expressed in world
// units (user coordinates) or in motor steps.
type Vec struct {
	X float64
	Y float64
}

// Origin is the zero vector.
var Origin = Vec{}

func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }

func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y} }

func (v Vec) Scale(s float64) Vec { return Vec{v.X * s, v.Y * s} }

// Abs returns the per-axis absolute values.
func (v Vec) Abs() Vec { return Vec{math.Abs(v.X), math.Abs(v.Y)} }

// MaxAxis returns the largest absolute component.
func (v Vec) MaxAxis() float64 { return math.Max(math.Abs(v.X), math.Abs(v.Y)) }

// Mag returns the Euclidean length.
func (v Vec) Mag() float64 { return math.Hypot(v.X, v.Y) }

// Rect is an axis-aligned rectangle, Min and Max inclusive.
type Rect struct {
	Min Vec
	Max Vec
}

// Clamp returns p limited to the rectangle on both axes.
func (r Rect) Clamp(p Vec) Vec {
	return Vec{
		X: math.Min(math.Max(p.X, r.Min.X), r.Max.X),
		Y: math.Min(math.Max(p.Y, r.Min.Y), r.Max.Y),
	}
}

// Contains reports whether p lies inside the rectangle (edges included).
func (r Rect) Contains(p Vec) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}
