package scene

import "math"

// Bounds is an axis-aligned box with Min <= Max on both axes.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Center returns the box midpoint.
func (b Bounds) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Expand grows the box by margin on every side.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{b.MinX - margin, b.MinY - margin, b.MaxX + margin, b.MaxY + margin}
}

// Contains reports whether (x, y) lies inside or on the box edge.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Intersects reports whether the two boxes overlap or touch.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Union returns the smallest box containing both.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Distance returns the euclidean distance from (x, y) to the box, 0 inside.
func (b Bounds) Distance(x, y float64) float64 {
	dx := math.Max(math.Max(b.MinX-x, 0), x-b.MaxX)
	dy := math.Max(math.Max(b.MinY-y, 0), y-b.MaxY)
	return math.Hypot(dx, dy)
}

// Bounds returns the element's absolute axis-aligned bounds. Negative
// width/height are folded so Min <= Max. Linear elements with points use
// the polyline extents. Rotation is ignored.
func (e *Element) Bounds() Bounds {
	if e.Type.IsLinear() && len(e.Points) > 0 {
		b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
		for _, p := range e.Points {
			px, py := e.X+p[0], e.Y+p[1]
			b.MinX = math.Min(b.MinX, px)
			b.MinY = math.Min(b.MinY, py)
			b.MaxX = math.Max(b.MaxX, px)
			b.MaxY = math.Max(b.MaxY, py)
		}
		return b
	}
	return Bounds{
		MinX: math.Min(e.X, e.X+e.Width),
		MinY: math.Min(e.Y, e.Y+e.Height),
		MaxX: math.Max(e.X, e.X+e.Width),
		MaxY: math.Max(e.Y, e.Y+e.Height),
	}
}

// ContentBounds returns the union of all live element bounds. ok is false
// when the document has no live elements.
func ContentBounds(elements []Element) (b Bounds, ok bool) {
	for i := range elements {
		if elements[i].IsDeleted {
			continue
		}
		eb := elements[i].Bounds()
		if !ok {
			b, ok = eb, true
			continue
		}
		b = b.Union(eb)
	}
	return b, ok
}
