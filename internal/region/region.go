// Package region holds the viewport-relative rectangle a recording is bound
// to, the interactive pickers that produce it, and the scroll-aware mapping
// from that rectangle to the document pixels the rasterizer reads.
package region

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
)

// Source says how a region was produced.
type Source string

const (
	SourceDrag       Source = "drag"
	SourceElement    Source = "element"
	SourceFullScreen Source = "full_screen"
	SourceExplicit   Source = "explicit"
)

// FullScreenLabel names the synthetic full-viewport region.
const FullScreenLabel = "full screen"

// Region is a rectangle in viewport CSS pixels. Width and Height are >= 1.
type Region struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Source Source  `json:"source"`
	Label  string  `json:"label,omitempty"`
}

// SourceRect is a rectangle in document pixels.
type SourceRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// FromPoints normalises a drag from (x0, y0) to (x1, y1). Width and height
// are clamped to at least 1 so a click without a drag still yields a region.
func FromPoints(x0, y0, x1, y1 float64) Region {
	return Region{
		Left:   math.Min(x0, x1),
		Top:    math.Min(y0, y1),
		Width:  math.Max(1, math.Abs(x1-x0)),
		Height: math.Max(1, math.Abs(y1-y0)),
		Source: SourceDrag,
	}
}

// FullScreen is the synthetic region covering the whole viewport.
func FullScreen(viewportW, viewportH float64) Region {
	return Region{
		Width:  math.Max(1, viewportW),
		Height: math.Max(1, viewportH),
		Source: SourceFullScreen,
		Label:  FullScreenLabel,
	}
}

// New validates an explicit rectangle.
func New(left, top, width, height float64) (Region, error) {
	r := Region{Left: left, Top: top, Width: width, Height: height, Source: SourceExplicit}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

func (r Region) Validate() error {
	for _, v := range []float64{r.Left, r.Top, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return cdpcontrol.NewError(cdpcontrol.CodeValidation, "region has a non-finite coordinate", nil)
		}
	}
	if r.Width < 1 || r.Height < 1 {
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("region width and height must be >= 1, got %gx%g", r.Width, r.Height), nil)
	}
	return nil
}

func (r Region) Right() float64  { return r.Left + r.Width }
func (r Region) Bottom() float64 { return r.Top + r.Height }

// CanvasSize is the integer pixel size of the display canvas for r.
func (r Region) CanvasSize() (int, int) {
	return max(1, int(math.Ceil(r.Width))), max(1, int(math.Ceil(r.Height)))
}

// SourceRect maps r to document pixels for the given scroll offset. The size
// never depends on scroll, so a scroll of (dx, dy) shifts the result by
// exactly (dx, dy) for integral offsets.
func (r Region) SourceRect(scrollX, scrollY float64) SourceRect {
	w, h := r.CanvasSize()
	return SourceRect{
		X: int(math.Floor(r.Left + scrollX)),
		Y: int(math.Floor(r.Top + scrollY)),
		W: w,
		H: h,
	}
}

// IsFullScreenLike reports whether r covers the viewport: its origin within
// 1px of the corner and its size within 2px of the viewport size.
func (r Region) IsFullScreenLike(viewportW, viewportH float64) bool {
	return r.Left <= 1 && r.Top <= 1 &&
		math.Abs(r.Width-viewportW) <= 2 &&
		math.Abs(r.Height-viewportH) <= 2
}

// Contains reports whether the viewport point (x, y) lies inside r.
func (r Region) Contains(x, y float64) bool {
	return x >= r.Left && y >= r.Top && x <= r.Right() && y <= r.Bottom()
}

// ViewportRect converts r to the page bridge's rectangle type.
func (r Region) ViewportRect() cdpcontrol.ViewportRect {
	return cdpcontrol.ViewportRect{Left: r.Left, Top: r.Top, Width: r.Width, Height: r.Height}
}

// Picker is the page surface the interactive pickers need.
type Picker interface {
	PickArea(ctx context.Context, timeout time.Duration) (cdpcontrol.DragResult, error)
	PickElement(ctx context.Context, timeout time.Duration) (cdpcontrol.ViewportRect, error)
	Viewport(ctx context.Context) (cdpcontrol.Viewport, error)
}

// PickArea enters crosshair mode on the page and returns the dragged region.
// The only cancellation is Escape on the page or the timeout.
func PickArea(ctx context.Context, p Picker, timeout time.Duration) (Region, error) {
	drag, err := p.PickArea(ctx, timeout)
	if err != nil {
		return Region{}, err
	}
	return FromPoints(drag.X0, drag.Y0, drag.X1, drag.Y1), nil
}

// PickElement returns the bounding box of the element the user clicks.
func PickElement(ctx context.Context, p Picker, timeout time.Duration) (Region, error) {
	rect, err := p.PickElement(ctx, timeout)
	if err != nil {
		return Region{}, err
	}
	return Region{
		Left:   rect.Left,
		Top:    rect.Top,
		Width:  math.Max(1, rect.Width),
		Height: math.Max(1, rect.Height),
		Source: SourceElement,
	}, nil
}

// PickFullScreen resolves immediately to the current viewport.
func PickFullScreen(ctx context.Context, p Picker) (Region, error) {
	vp, err := p.Viewport(ctx)
	if err != nil {
		return Region{}, err
	}
	return FullScreen(vp.Width, vp.Height), nil
}
