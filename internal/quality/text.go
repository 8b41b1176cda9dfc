package quality

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// EstimateWidth approximates the rendered width of the widest line.
func EstimateWidth(text string, fontSize float64) float64 {
	return float64(maxLineLength(text)) * fontSize * GlyphWidthFactor
}

// MaxCharsPerLine converts an available width into a line length budget,
// floored and never below MinCharsPerLine.
func MaxCharsPerLine(maxWidth, fontSize float64) int {
	if fontSize <= 0 {
		fontSize = scene.DefaultFontSize
	}
	n := int(math.Floor(maxWidth / (fontSize * GlyphWidthFactor)))
	if n < MinCharsPerLine {
		return MinCharsPerLine
	}
	return n
}

// Wrap re-flows text so no line exceeds maxChars characters. Existing
// paragraph breaks are kept; within a paragraph words are packed greedily
// and words longer than maxChars are split.
func Wrap(text string, maxChars int) string {
	if maxChars < 1 {
		maxChars = 1
	}

	var out []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}

		line := ""
		for _, w := range words {
			for utf8.RuneCountInString(w) > maxChars {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				r := []rune(w)
				out = append(out, string(r[:maxChars]))
				w = string(r[maxChars:])
			}
			switch {
			case w == "":
			case line == "":
				line = w
			case utf8.RuneCountInString(line)+1+utf8.RuneCountInString(w) <= maxChars:
				line += " " + w
			default:
				out = append(out, line)
				line = w
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func maxLineLength(text string) int {
	longest := 0
	for _, line := range strings.Split(text, "\n") {
		if n := utf8.RuneCountInString(line); n > longest {
			longest = n
		}
	}
	return longest
}

func repairTextOverflow(doc *scene.Document, fix bool, res *Result) {
	for i := range doc.Elements {
		t := &doc.Elements[i]
		if t.IsDeleted || t.Type != scene.TypeText {
			continue
		}
		container := doc.LiveElement(t.Container())
		if container == nil || container == t {
			continue
		}

		fontSize := t.FontSize
		if fontSize <= 0 {
			fontSize = scene.DefaultFontSize
		}
		lineHeight := t.LineHeight
		if lineHeight <= 0 {
			lineHeight = scene.DefaultLineHeight
		}

		maxWidth := math.Abs(container.Width) - ContainerPadding
		estimated := EstimateWidth(t.Text, fontSize)
		if estimated <= maxWidth {
			continue
		}

		issue := Issue{
			Code:      CodeTextOverflow,
			Severity:  SeverityWarning,
			ElementID: t.ID,
			TargetID:  container.ID,
			Message: fmt.Sprintf("text %q is ~%.0fpx wide but container %q fits %.0fpx",
				t.ID, estimated, container.ID, maxWidth),
		}

		if fix {
			maxChars := MaxCharsPerLine(maxWidth, fontSize)
			wrapped := Wrap(t.Text, maxChars)
			lines := strings.Count(wrapped, "\n") + 1

			width := maxWidth
			if width <= 0 {
				width = float64(maxChars) * fontSize * GlyphWidthFactor
			}
			height := math.Max(t.Height, float64(lines)*fontSize*lineHeight)

			if wrapped != t.Text || wrapped != t.OriginalText || width != t.Width || height != t.Height {
				t.Text = wrapped
				t.OriginalText = wrapped
				t.Width = width
				t.Height = height
				t.Version++
				res.FixesApplied++
				issue.Fixed = true
			}
		}
		res.Issues = append(res.Issues, issue)
	}
}
