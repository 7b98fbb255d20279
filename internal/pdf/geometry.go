package pdf

import "math"

// Rect is an axis-aligned box in PDF points with the origin at the top-left
// of the page and Y growing downwards.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// RectXYWH builds a Rect from an origin and size.
func RectXYWH(x, y, w, h float64) Rect {
	return Rect{X0: x, Y0: y, X1: x + w, Y1: y + h}
}

func (r Rect) Width() float64  { return math.Max(0, r.X1-r.X0) }
func (r Rect) Height() float64 { return math.Max(0, r.Y1-r.Y0) }
func (r Rect) Area() float64   { return r.Width() * r.Height() }
func (r Rect) Empty() bool     { return r.Width() == 0 || r.Height() == 0 }

// CenterY is the vertical midpoint.
func (r Rect) CenterY() float64 { return (r.Y0 + r.Y1) / 2 }

// Intersect returns the overlap of r and o; the zero Rect when disjoint.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X0: math.Max(r.X0, o.X0),
		Y0: math.Max(r.Y0, o.Y0),
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
	}
	if out.X1 <= out.X0 || out.Y1 <= out.Y0 {
		return Rect{}
	}
	return out
}

// Union returns the smallest Rect containing r and o. An empty operand is ignored.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// Inset grows (positive d) or shrinks (negative d) the rect on every side.
func (r Rect) Inset(d float64) Rect {
	return Rect{X0: r.X0 - d, Y0: r.Y0 - d, X1: r.X1 + d, Y1: r.Y1 + d}
}
