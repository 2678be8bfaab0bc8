// Package overlay draws the synthetic indicators onto a rasterized frame:
// selection highlight, caret, caption box and pointer with click ripple.
package overlay

import (
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/eventtap"
	"github.com/dgnsrekt/regioncap/internal/region"
)

const (
	captionFontSize   = 13
	captionPadX       = 10
	captionPadY       = 8
	captionLineHeight = 18
	captionMargin     = 18
	captionRadius     = 6

	pointerRadius = 5
	rippleWindow  = 400 * time.Millisecond
	rippleBase    = 12
	rippleGrowth  = 0.03
	rippleAlpha   = 0.6

	caretWidth     = 2
	caretMinHeight = 12
	inputInset     = 2
)

// DefaultCaptionWindow is how far back captions stay on screen.
const DefaultCaptionWindow = 2 * time.Second

var (
	fontOnce sync.Once
	fontData *truetype.Font
	fontErr  error
)

func parsedFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		fontData, fontErr = truetype.Parse(goregular.TTF)
	})
	return fontData, fontErr
}

// Frame is everything drawn on top of one rasterized image. Region is the
// viewport rectangle the image shows; ScaleX and ScaleY map its CSS pixels
// to image pixels and default to 1.
type Frame struct {
	Region    region.Region
	ScaleX    float64
	ScaleY    float64
	Now       time.Time
	Pointer   eventtap.Pointer
	Captions  []eventtap.Caption
	Selection *cdpcontrol.SelectionState
}

// Renderer owns a font face and is not safe for concurrent use.
type Renderer struct {
	face font.Face
}

func NewRenderer() (*Renderer, error) {
	f, err := parsedFont()
	if err != nil {
		return nil, fmt.Errorf("overlay: parse font: %w", err)
	}
	return &Renderer{face: truetype.NewFace(f, &truetype.Options{Size: captionFontSize, DPI: 72})}, nil
}

// Draw paints the overlays onto img in order: selection, caret, captions,
// pointer. Everything outside img is clipped.
func (r *Renderer) Draw(img *image.RGBA, f Frame) {
	dc := gg.NewContextForRGBA(img)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	sx, sy := f.scale()

	if f.Selection != nil {
		sel := ScaleSelection(*f.Selection, f.Region, sx, sy)
		dc.SetRGBA(59/255.0, 130/255.0, 246/255.0, 0.35)
		for _, rect := range SelectionRects(sel, f.Region, w, h) {
			dc.DrawRectangle(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()))
			dc.Fill()
		}
		if caret, ok := CaretRect(sel.Caret, f.Region, w, h); ok {
			dc.SetRGBA(17/255.0, 24/255.0, 39/255.0, 0.9)
			dc.DrawRectangle(float64(caret.Min.X), float64(caret.Min.Y), float64(caret.Dx()), float64(caret.Dy()))
			dc.Fill()
		}
	}

	if text := eventtap.Join(f.Captions); text != "" {
		r.drawCaptions(dc, text, w, h)
	}

	if p := f.Pointer; p.Known {
		x, y := (p.X-f.Region.Left)*sx, (p.Y-f.Region.Top)*sy
		if x >= 0 && y >= 0 && x <= float64(w) && y <= float64(h) {
			drawPointer(dc, x, y, f.Now, p.LastClick)
		}
	}
}

func (f Frame) scale() (float64, float64) {
	sx, sy := f.ScaleX, f.ScaleY
	if sx <= 0 {
		sx = 1
	}
	if sy <= 0 {
		sy = 1
	}
	return sx, sy
}

// ScaleSelection maps selection geometry for an image that shows reg scaled
// by (sx, sy). The result is still offset by reg's origin, so it can be
// passed to SelectionRects and CaretRect unchanged.
func ScaleSelection(sel cdpcontrol.SelectionState, reg region.Region, sx, sy float64) cdpcontrol.SelectionState {
	if sx == 1 && sy == 1 {
		return sel
	}
	scale := func(r cdpcontrol.ViewportRect) cdpcontrol.ViewportRect {
		return cdpcontrol.ViewportRect{
			Left:   reg.Left + (r.Left-reg.Left)*sx,
			Top:    reg.Top + (r.Top-reg.Top)*sy,
			Width:  r.Width * sx,
			Height: r.Height * sy,
		}
	}
	out := cdpcontrol.SelectionState{Rects: make([]cdpcontrol.ViewportRect, 0, len(sel.Rects))}
	for _, r := range sel.Rects {
		out.Rects = append(out.Rects, scale(r))
	}
	if sel.Input != nil {
		in := scale(*sel.Input)
		out.Input = &in
	}
	if sel.Caret != nil {
		c := scale(*sel.Caret)
		out.Caret = &c
	}
	return out
}

func (r *Renderer) drawCaptions(dc *gg.Context, text string, w, h int) {
	dc.SetFontFace(r.face)
	maxBoxWidth := math.Floor(float64(w) * 0.8)
	leftX := math.Floor(float64(w) * 0.1)
	lines := WrapLines(text, maxBoxWidth-2*captionPadX, func(s string) float64 {
		width, _ := dc.MeasureString(s)
		return width
	})
	boxHeight := float64(len(lines)*captionLineHeight + 2*captionPadY)
	boxY := float64(h) - boxHeight - captionMargin

	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRoundedRectangle(leftX, boxY, maxBoxWidth, boxHeight, captionRadius)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	for i, line := range lines {
		dc.DrawString(line, leftX+captionPadX, boxY+captionPadY+float64((i+1)*captionLineHeight)-4)
	}
}

// WrapLines greedily packs words into lines no wider than maxWidth. A single
// word wider than maxWidth gets a line of its own.
func WrapLines(text string, maxWidth float64, measure func(string) float64) []string {
	var (
		lines   []string
		current string
	)
	for _, word := range strings.Fields(text) {
		test := word
		if current != "" {
			test = current + " " + word
		}
		if measure(test) > maxWidth && current != "" {
			lines = append(lines, current)
			current = word
			continue
		}
		current = test
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// RippleRadius is the ring radius for a click age, and ok is false once the
// ripple has expired. Only the latest click has a ripple.
func RippleRadius(age time.Duration) (radius, alpha float64, ok bool) {
	if age < 0 || age >= rippleWindow {
		return 0, 0, false
	}
	ms := float64(age) / float64(time.Millisecond)
	window := float64(rippleWindow / time.Millisecond)
	return rippleBase + (window-ms)*rippleGrowth, rippleAlpha * (1 - ms/window), true
}

func drawPointer(dc *gg.Context, x, y float64, now, lastClick time.Time) {
	dc.SetRGBA(29/255.0, 78/255.0, 216/255.0, 0.95)
	dc.DrawCircle(x, y, pointerRadius)
	dc.Fill()
	if lastClick.IsZero() {
		return
	}
	radius, alpha, ok := RippleRadius(now.Sub(lastClick))
	if !ok {
		return
	}
	dc.SetRGBA(29/255.0, 78/255.0, 216/255.0, alpha)
	dc.SetLineWidth(2)
	dc.DrawCircle(x, y, radius)
	dc.Stroke()
}

// SelectionRects translates selection rectangles into canvas pixels, drops
// those entirely outside the canvas and clamps the rest to it. A focused
// text field's selection is approximated by its box inset by 2px.
func SelectionRects(sel cdpcontrol.SelectionState, reg region.Region, w, h int) []image.Rectangle {
	rects := append([]cdpcontrol.ViewportRect(nil), sel.Rects...)
	if in := sel.Input; in != nil {
		rects = append(rects, cdpcontrol.ViewportRect{
			Left:   in.Left + inputInset,
			Top:    in.Top + inputInset,
			Width:  math.Max(1, in.Width-2*inputInset),
			Height: math.Max(1, in.Height-2*inputInset),
		})
	}
	canvas := image.Rect(0, 0, w, h)
	var out []image.Rectangle
	for _, vr := range rects {
		x := int(math.Round(vr.Left - reg.Left))
		y := int(math.Round(vr.Top - reg.Top))
		rw := int(math.Round(vr.Width))
		rh := int(math.Round(vr.Height))
		clipped := image.Rect(x, y, x+rw, y+rh).Intersect(canvas)
		if clipped.Empty() {
			continue
		}
		out = append(out, clipped)
	}
	return out
}

// CaretRect is the caret bar in canvas pixels. ok is false when the caret
// starts outside the canvas.
func CaretRect(caret *cdpcontrol.ViewportRect, reg region.Region, w, h int) (image.Rectangle, bool) {
	if caret == nil {
		return image.Rectangle{}, false
	}
	x := int(math.Round(caret.Left - reg.Left))
	y := int(math.Round(caret.Top - reg.Top))
	if x < 0 || y < 0 || x > w || y >= h {
		return image.Rectangle{}, false
	}
	lineH := min(h-y, int(math.Max(caretMinHeight, caret.Height)))
	return image.Rect(x, y, x+caretWidth, y+lineH), true
}
