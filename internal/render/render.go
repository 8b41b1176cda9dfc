// Package render defines the outbound rendering request used for image
// export and ships a software preview renderer built on gogpu/gg.
//
// The preview is a flat approximation: shapes, connectors and freedraw
// strokes are drawn with their stroke and background colors, text is drawn
// as placeholder bars sized by the quality estimator. High-fidelity output
// belongs to an external renderer implementing the same interface.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// Format is an export image format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat accepts png, jpeg and jpg in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("%w: unsupported image format %q", scene.ErrInvalidInput, s)
	}
}

// MimeType returns the media type of the format.
func (f Format) MimeType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Defaults applied by Options.WithDefaults.
const (
	DefaultScale        = 1.0
	DefaultPadding      = 10.0
	DefaultQuality      = 92
	DefaultMaxDimension = 4096
	MaxScale            = 10.0
	MinScale            = 0.1
)

// Options describe one render request.
type Options struct {
	Format       Format  `json:"format"`
	Scale        float64 `json:"scale"`
	Padding      float64 `json:"padding"`
	DarkMode     bool    `json:"darkMode"`
	Quality      int     `json:"quality"`
	MaxDimension int     `json:"maxDimension"`
}

// WithDefaults fills zero fields and clamps out-of-range ones.
func (o Options) WithDefaults() Options {
	if o.Format == "" {
		o.Format = FormatPNG
	}
	if o.Scale <= 0 {
		o.Scale = DefaultScale
	}
	o.Scale = min(max(o.Scale, MinScale), MaxScale)
	if o.Padding < 0 {
		o.Padding = 0
	}
	if o.Padding == 0 {
		o.Padding = DefaultPadding
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	o.Quality = min(o.Quality, 100)
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	return o
}

// Image is a rendered export.
type Image struct {
	MimeType string `json:"mimeType"`
	Base64   string `json:"base64"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Renderer turns a normalized document into an image. Implementations are
// fallible; callers treat any failure as degraded mode.
type Renderer interface {
	Render(ctx context.Context, doc scene.Document, opts Options) (Image, error)
}
