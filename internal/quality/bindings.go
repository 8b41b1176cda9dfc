package quality

import (
	"fmt"
	"math"

	"github.com/duhman/excalidraw-mcp/internal/scene"
)

const (
	sideStart = "start"
	sideEnd   = "end"
)

// Endpoints returns the absolute start and end coordinates of a connector:
// the first and last polyline points offset by the origin, or the bounding
// box corners when the connector has no points.
func Endpoints(e *scene.Element) (sx, sy, ex, ey float64) {
	if len(e.Points) > 0 {
		first, last := e.Points[0], e.Points[len(e.Points)-1]
		return e.X + first[0], e.Y + first[1], e.X + last[0], e.Y + last[1]
	}
	return e.X, e.Y, e.X + e.Width, e.Y + e.Height
}

func repairBindings(doc *scene.Document, fix bool, res *Result) {
	for i := range doc.Elements {
		c := &doc.Elements[i]
		if c.IsDeleted || !c.Type.IsConnector() {
			continue
		}
		sx, sy, ex, ey := Endpoints(c)
		repairSide(doc, c, sideStart, sx, sy, fix, res)
		repairSide(doc, c, sideEnd, ex, ey, fix, res)
	}
}

func repairSide(doc *scene.Document, c *scene.Element, side string, x, y float64, fix bool, res *Result) {
	current := bindingFor(c, side)
	existing := ""
	if current != nil {
		existing = current.ElementID
	}

	target := ""
	if existing != "" && bindTarget(doc, existing, c.ID) != nil {
		target = existing
	}
	if target == "" {
		if hint := hintFor(c, side); hint != "" && bindTarget(doc, hint, c.ID) != nil {
			target = hint
		}
	}
	if target == "" {
		target = inferTarget(doc, c.ID, x, y)
	}

	if target == "" {
		if current != nil && fix {
			// Drop the dangling reference; the side stays unbound.
			setBinding(c, side, nil)
			c.Version++
			res.FixesApplied++
		}
		res.Issues = append(res.Issues, Issue{
			Code:      CodeConnectorUnbound,
			Severity:  SeverityError,
			ElementID: c.ID,
			Side:      side,
			Message: fmt.Sprintf("%s %q: %s point (%.1f, %.1f) is not attached to any shape",
				c.Type, c.ID, side, x, y),
		})
		return
	}
	if target == existing {
		return
	}

	issue := Issue{
		Code:      CodeConnectorRebound,
		Severity:  SeverityInfo,
		ElementID: c.ID,
		Side:      side,
		TargetID:  target,
		Message:   fmt.Sprintf("%s %q: %s binding resolves to %q", c.Type, c.ID, side, target),
	}
	if fix {
		t := bindTarget(doc, target, c.ID)
		setBinding(c, side, &scene.Binding{
			ElementID: target,
			Gap:       t.Bounds().Distance(x, y),
		})
		c.Version++
		if !t.HasBoundElement(c.ID) {
			t.BoundElements = append(t.BoundElements, scene.BoundElement{ID: c.ID, Type: string(c.Type)})
			t.Version++
		}
		res.FixesApplied++
		issue.Fixed = true
	}
	res.Issues = append(res.Issues, issue)
}

// bindTarget returns the live non-connector element with the given id,
// excluding the connector itself.
func bindTarget(doc *scene.Document, id, selfID string) *scene.Element {
	if id == selfID {
		return nil
	}
	e := doc.LiveElement(id)
	if e == nil || e.Type.IsConnector() {
		return nil
	}
	return e
}

// inferTarget picks, among live non-connector elements whose margin-expanded
// bounds contain (x, y), the one whose center is closest. Ties keep the
// first element in document order. Text bound inside a container is
// skipped so labels never capture their container's connectors.
func inferTarget(doc *scene.Document, selfID string, x, y float64) string {
	best := ""
	bestDist := math.Inf(1)
	for i := range doc.Elements {
		e := &doc.Elements[i]
		if e.IsDeleted || e.ID == "" || e.ID == selfID || e.Type.IsConnector() {
			continue
		}
		if e.Type == scene.TypeText && doc.LiveElement(e.Container()) != nil {
			continue
		}
		b := e.Bounds()
		if !b.Expand(BindingMargin).Contains(x, y) {
			continue
		}
		cx, cy := b.Center()
		if d := math.Hypot(cx-x, cy-y); d < bestDist {
			best, bestDist = e.ID, d
		}
	}
	return best
}

// hintFor reads an explicit target carried by the connector:
// customData.startElementId / endElementId, or the skeleton form
// {"start": {"id": ...}} kept in Extra.
func hintFor(c *scene.Element, side string) string {
	if v, ok := c.CustomData[side+"ElementId"].(string); ok && v != "" {
		return v
	}
	if m, ok := c.Extra[side].(map[string]any); ok {
		if id, ok := m["id"].(string); ok {
			return id
		}
	}
	return ""
}

func bindingFor(c *scene.Element, side string) *scene.Binding {
	if side == sideStart {
		return c.StartBinding
	}
	return c.EndBinding
}

func setBinding(c *scene.Element, side string, b *scene.Binding) {
	if side == sideStart {
		c.StartBinding = b
		return
	}
	c.EndBinding = b
}
