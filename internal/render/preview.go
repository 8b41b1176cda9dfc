package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/duhman/excalidraw-mcp/internal/quality"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/gogpu/gg"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

type palette struct {
	background string
	stroke     string
}

var (
	lightPalette = palette{background: "#ffffff", stroke: "#1e1e1e"}
	darkPalette  = palette{background: "#121212", stroke: "#e3e3e3"}
)

// PreviewRenderer rasterizes documents with the gg software renderer.
type PreviewRenderer struct {
	maxDimension int
}

// NewPreviewRenderer creates a renderer whose output never exceeds
// maxDimension pixels on either side. Non-positive means DefaultMaxDimension.
func NewPreviewRenderer(maxDimension int) *PreviewRenderer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &PreviewRenderer{maxDimension: maxDimension}
}

// Render draws the live elements of doc and encodes the result.
func (r *PreviewRenderer) Render(ctx context.Context, doc scene.Document, opts Options) (Image, error) {
	opts = opts.WithDefaults()
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return Image{}, err
	}
	limit := min(opts.MaxDimension, r.maxDimension)

	bounds, ok := scene.ContentBounds(doc.Elements)
	if !ok {
		bounds = scene.Bounds{}
	}
	scale := opts.Scale
	w := (bounds.Width() + 2*opts.Padding) * scale
	h := (bounds.Height() + 2*opts.Padding) * scale
	if longest := math.Max(w, h); longest > float64(limit) {
		shrink := float64(limit) / longest
		scale *= shrink
		w *= shrink
		h *= shrink
	}
	width := max(1, int(math.Ceil(w)))
	height := max(1, int(math.Ceil(h)))
	width, height = min(width, limit), min(height, limit)

	dc := gg.NewContext(width, height)
	defer dc.Close()

	pal := lightPalette
	if opts.DarkMode {
		pal = darkPalette
	}
	dc.SetHexColor(pal.background)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	if err := dc.Fill(); err != nil {
		return Image{}, fmt.Errorf("render: background: %w", err)
	}

	p := painter{
		dc:      dc,
		pal:     pal,
		dark:    opts.DarkMode,
		scale:   scale,
		originX: bounds.MinX - opts.Padding,
		originY: bounds.MinY - opts.Padding,
	}
	for i := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return Image{}, err
		}
		e := &doc.Elements[i]
		if e.IsDeleted {
			continue
		}
		if err := p.draw(e); err != nil {
			return Image{}, fmt.Errorf("render: element %q: %w", e.ID, err)
		}
	}

	var buf bytes.Buffer
	var err error
	if opts.Format == FormatJPEG {
		err = dc.EncodeJPEG(&buf, opts.Quality)
	} else {
		err = dc.EncodePNG(&buf)
	}
	if err != nil {
		return Image{}, fmt.Errorf("render: encode %s: %w", opts.Format, err)
	}

	return Image{
		MimeType: opts.Format.MimeType(),
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:    width,
		Height:   height,
	}, nil
}

// painter maps scene coordinates to pixels and draws single elements.
type painter struct {
	dc               *gg.Context
	pal              palette
	dark             bool
	scale            float64
	originX, originY float64
}

func (p painter) px(x float64) float64 { return (x - p.originX) * p.scale }
func (p painter) py(y float64) float64 { return (y - p.originY) * p.scale }

func (p painter) draw(e *scene.Element) error {
	b := e.Bounds()
	x, y := p.px(b.MinX), p.py(b.MinY)
	w, h := b.Width()*p.scale, b.Height()*p.scale

	if e.Angle != 0 {
		cx, cy := b.Center()
		p.dc.Push()
		defer p.dc.Pop()
		p.dc.RotateAbout(e.Angle, p.px(cx), p.py(cy))
	}
	p.dc.SetLineWidth(math.Max(1, strokeWidth(e)*p.scale))

	switch e.Type {
	case scene.TypeEllipse:
		return p.shape(e, func() { p.dc.DrawEllipse(x+w/2, y+h/2, w/2, h/2) })
	case scene.TypeDiamond:
		return p.shape(e, func() {
			p.dc.MoveTo(x+w/2, y)
			p.dc.LineTo(x+w, y+h/2)
			p.dc.LineTo(x+w/2, y+h)
			p.dc.LineTo(x, y+h/2)
			p.dc.ClosePath()
		})
	case scene.TypeArrow, scene.TypeLine, scene.TypeFreeDraw:
		return p.polyline(e)
	case scene.TypeText:
		return p.textBars(e)
	case scene.TypeFrame, scene.TypeMagicFrame:
		p.dc.SetDash(6*p.scale, 4*p.scale)
		defer p.dc.SetDash()
		return p.shape(e, func() { p.dc.DrawRectangle(x, y, w, h) })
	default:
		return p.shape(e, func() { p.dc.DrawRectangle(x, y, w, h) })
	}
}

// shape fills the path built by trace with the element background, then
// strokes it. Fill consumes the path, so trace runs once per pass.
func (p painter) shape(e *scene.Element, trace func()) error {
	if bg, ok := p.color(e.Extra["backgroundColor"]); ok {
		p.dc.SetHexColor(bg)
		trace()
		if err := p.dc.Fill(); err != nil {
			return err
		}
	}
	p.setStroke(e)
	trace()
	return p.dc.Stroke()
}

func (p painter) polyline(e *scene.Element) error {
	points := e.Points
	if len(points) == 0 {
		points = []scene.Point{{0, 0}, {e.Width, e.Height}}
	}
	p.setStroke(e)
	for i, pt := range points {
		x, y := p.px(e.X+pt[0]), p.py(e.Y+pt[1])
		if i == 0 {
			p.dc.MoveTo(x, y)
			continue
		}
		p.dc.LineTo(x, y)
	}
	if err := p.dc.Stroke(); err != nil {
		return err
	}

	if e.Type != scene.TypeArrow || len(points) < 2 {
		return nil
	}
	tip, prev := points[len(points)-1], points[len(points)-2]
	tx, ty := p.px(e.X+tip[0]), p.py(e.Y+tip[1])
	angle := math.Atan2(ty-p.py(e.Y+prev[1]), tx-p.px(e.X+prev[0]))
	head := 12 * p.scale
	for _, side := range []float64{-1, 1} {
		a := angle + math.Pi - side*math.Pi/7
		p.dc.MoveTo(tx, ty)
		p.dc.LineTo(tx+head*math.Cos(a), ty+head*math.Sin(a))
	}
	return p.dc.Stroke()
}

// textBars draws one bar per text line, as wide as the estimated glyph run.
func (p painter) textBars(e *scene.Element) error {
	fontSize := e.FontSize
	if fontSize <= 0 {
		fontSize = scene.DefaultFontSize
	}
	lineHeight := e.LineHeight
	if lineHeight <= 0 {
		lineHeight = scene.DefaultLineHeight
	}

	p.setStroke(e)
	p.dc.SetLineWidth(math.Max(1, fontSize*0.35*p.scale))
	drawn := 0
	for i, line := range strings.Split(e.Text, "\n") {
		n := utf8.RuneCountInString(strings.TrimSpace(line))
		if n == 0 {
			continue
		}
		width := quality.EstimateWidth(line, fontSize)
		baseline := e.Y + float64(i)*fontSize*lineHeight + fontSize*0.6
		p.dc.MoveTo(p.px(e.X), p.py(baseline))
		p.dc.LineTo(p.px(e.X+width), p.py(baseline))
		drawn++
	}
	if drawn == 0 {
		return nil
	}
	return p.dc.Stroke()
}

func (p painter) setStroke(e *scene.Element) {
	if c, ok := p.color(e.Extra["strokeColor"]); ok {
		p.dc.SetHexColor(c)
		return
	}
	p.dc.SetHexColor(p.pal.stroke)
}

// color accepts hex colors; "transparent" and named colors are skipped.
// In dark mode the default near-black stroke is swapped for the palette's.
func (p painter) color(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !hexColor.MatchString(s) {
		return "", false
	}
	if p.dark && strings.EqualFold(s, lightPalette.stroke) {
		return p.pal.stroke, true
	}
	return s, true
}

func strokeWidth(e *scene.Element) float64 {
	if v, ok := e.Extra["strokeWidth"].(float64); ok && v > 0 {
		return v
	}
	return 2
}
