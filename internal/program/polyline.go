package program

import "github.com/cjeanneret/PlotGo/internal/logic/geometry"

// PolylineOpts tunes the instructions generated for one shape.
type PolylineOpts struct {
	Speed     float64  // tempo factor for drawing moves, 0 means 1
	Down      *float64 // pen-down position for this shape only
	DelayDown *int
	DelayUp   *int
	// OnlyGeometry emits only the moves, no pen commands. Speed is the
	// only other option used.
	OnlyGeometry bool
}

// Polyline returns the instructions to draw pts as one stroke: travel to the
// first point, lower the pen, draw through the rest, raise the pen.
func Polyline(pts []geometry.Vec, opts PolylineOpts) Program {
	if len(pts) == 0 {
		return nil
	}
	if opts.OnlyGeometry {
		out := make(Program, 0, len(pts))
		for _, p := range pts {
			out = append(out, MoveTo(p).WithSpeed(opts.Speed))
		}
		return out
	}

	out := make(Program, 0, len(pts)+2)
	out = append(out, MoveTo(pts[0]))
	down := Down()
	down.Delay, down.Level = opts.DelayDown, opts.Down
	out = append(out, down)
	for _, p := range pts[1:] {
		out = append(out, MoveTo(p).WithSpeed(opts.Speed))
	}
	up := Up()
	up.Delay = opts.DelayUp
	return append(out, up)
}
