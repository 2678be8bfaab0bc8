// Package diagnostics describes the visible elements inside a region
// together with the page environment. It is a one-shot read and does not
// depend on a recording being active.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/region"
)

const (
	DefaultLimit = 30
	// MinSize is the smallest width or height an element may have and still
	// count as visible.
	MinSize = 6

	maxText    = 120
	maxClasses = 6
	// selector classes on the element itself and on a parent fallback.
	selectorClasses       = 3
	parentSelectorClasses = 2
)

// Scanner is the page surface diagnostics reads from.
type Scanner interface {
	ScanRegion(ctx context.Context, rect cdpcontrol.ViewportRect, limit, minSize int) (cdpcontrol.ScanResult, error)
	Environment(ctx context.Context) (cdpcontrol.PageEnv, error)
	BrowserVersion(ctx context.Context) (cdpcontrol.BrowserVersion, error)
}

type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Element describes one element that intersects the region.
type Element struct {
	Selector  string   `json:"selector"`
	Tag       string   `json:"tag"`
	ID        string   `json:"id,omitempty"`
	Classes   []string `json:"classes,omitempty"`
	Role      string   `json:"role,omitempty"`
	AriaLabel string   `json:"aria_label,omitempty"`
	Text      string   `json:"text,omitempty"`
	Rect      Rect     `json:"rect"`
}

// Report is the diagnostics bundle.
type Report struct {
	Region   region.Region              `json:"region"`
	Elements []Element                  `json:"elements"`
	Env      cdpcontrol.PageEnv         `json:"env"`
	Browser  *cdpcontrol.BrowserVersion `json:"browser,omitempty"`
}

// Collect returns up to limit elements inside reg in document order. A limit
// of zero or less means DefaultLimit.
func Collect(ctx context.Context, page Scanner, reg region.Region, limit int) (Report, error) {
	if err := reg.Validate(); err != nil {
		return Report{}, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	scan, err := page.ScanRegion(ctx, reg.ViewportRect(), limit, MinSize)
	if err != nil {
		return Report{}, fmt.Errorf("diagnostics: scan: %w", err)
	}
	env, err := page.Environment(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("diagnostics: environment: %w", err)
	}

	rep := Report{Region: reg, Env: env, Elements: make([]Element, 0, min(limit, len(scan.Elements)))}
	for _, el := range scan.Elements {
		if len(rep.Elements) >= limit {
			break
		}
		if !qualifies(el, reg, scan.ViewportWidth, scan.ViewportHeight) {
			continue
		}
		rep.Elements = append(rep.Elements, Describe(el))
	}
	if v, err := page.BrowserVersion(ctx); err != nil {
		slog.Debug("diagnostics browser version unavailable", "error", err)
	} else {
		rep.Browser = &v
	}
	return rep, nil
}

// qualifies repeats the page-side filter so a scanner that over-reports
// cannot leak elements outside the region.
func qualifies(el cdpcontrol.ScanElement, reg region.Region, vw, vh float64) bool {
	r := el.Rect
	right, bottom := r.Left+r.Width, r.Top+r.Height
	switch {
	case r.Width <= 0 || r.Height <= 0:
		return false
	case vw > 0 && vh > 0 && (right < 0 || bottom < 0 || r.Left > vw || r.Top > vh):
		return false
	case right < reg.Left || bottom < reg.Top || r.Left > reg.Right() || r.Top > reg.Bottom():
		return false
	case el.Visible == "hidden" || el.Display == "none" || el.Opacity == 0:
		return false
	case r.Width < MinSize || r.Height < MinSize:
		return false
	}
	return true
}

// Describe turns a scanned element into its descriptor.
func Describe(el cdpcontrol.ScanElement) Element {
	d := Element{
		Selector:  Selector(el),
		Tag:       el.Tag,
		ID:        el.ID,
		Role:      el.Role,
		AriaLabel: el.AriaLabel,
		Text:      Snippet(el.Text),
		Rect: Rect{
			Left:   int(math.Floor(el.Rect.Left)),
			Top:    int(math.Floor(el.Rect.Top)),
			Width:  int(math.Floor(el.Rect.Width)),
			Height: int(math.Floor(el.Rect.Height)),
		},
	}
	if len(el.Classes) > 0 {
		d.Classes = append([]string(nil), el.Classes[:min(maxClasses, len(el.Classes))]...)
	}
	return d
}

// Selector prefers the id, then the tag with up to three classes, then a
// path qualified by the parent.
func Selector(el cdpcontrol.ScanElement) string {
	if el.ID != "" {
		return "#" + CSSEscape(el.ID)
	}
	if len(el.Classes) > 0 {
		return classSelector(el.Tag, el.Classes, selectorClasses)
	}
	if el.Parent == nil {
		return el.Tag
	}
	var parent string
	switch p := el.Parent; {
	case p.ID != "":
		parent = "#" + CSSEscape(p.ID)
	case len(p.Classes) > 0:
		parent = classSelector(p.Tag, p.Classes, parentSelectorClasses)
	default:
		parent = p.Tag
	}
	return parent + " > " + el.Tag
}

func classSelector(tag string, classes []string, n int) string {
	var b strings.Builder
	b.WriteString(tag)
	for _, c := range classes[:min(n, len(classes))] {
		b.WriteByte('.')
		b.WriteString(CSSEscape(c))
	}
	return b.String()
}

// Snippet collapses whitespace and caps the text at 120 characters.
func Snippet(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= maxText {
		return s
	}
	r := []rune(s)
	return string(r[:maxText-3]) + "…"
}

// CSSEscape escapes an identifier the way CSS.escape does.
func CSSEscape(ident string) string {
	var b strings.Builder
	runes := []rune(ident)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x01 && r <= 0x1f) || r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
