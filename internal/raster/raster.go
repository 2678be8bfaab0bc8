// Package raster renders a document rectangle of a live page to pixels.
//
// Two modes are tried in order. The DOM-clone mode paints a patched copy of
// the document through an SVG foreignObject and shows live form input. The
// compositor mode screenshots the rectangle directly. A primary render that
// is mostly transparent counts as failed and the next mode is tried.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/formstate"
	"github.com/dgnsrekt/regioncap/internal/region"
)

type Mode string

const (
	ModeForeignObject Mode = "foreign_object"
	ModeCompositor    Mode = "compositor"
)

const (
	sampleGrid           = 10
	transparentThreshold = 0.9
)

// Request describes one region render.
type Request struct {
	Rect       region.SourceRect
	Background color.Color
	// Exclude is a CSS selector list of elements that must not appear.
	// Iframes and recorder chrome are always excluded.
	Exclude string
	Form    []cdpcontrol.FormPatch
}

func (r Request) params() cdpcontrol.RasterParams {
	return cdpcontrol.RasterParams{
		SX:      r.Rect.X,
		SY:      r.Rect.Y,
		SW:      r.Rect.W,
		SH:      r.Rect.H,
		Exclude: r.Exclude,
		Form:    r.Form,
	}
}

// Primitive renders one request in one mode. It is the supplied
// DOM-to-pixels capability; its fidelity is not this package's concern.
type Primitive interface {
	Render(ctx context.Context, mode Mode, req Request) (image.Image, error)
}

// Rasterizer applies the mode fallback policy over a Primitive. It keeps no
// state between calls; every frame is a fresh render.
type Rasterizer struct {
	prim  Primitive
	forms formstate.Reader
	modes []Mode
}

// New builds a Rasterizer. forms may be nil, in which case clones are painted
// with their serialized defaults.
func New(prim Primitive, forms formstate.Reader) *Rasterizer {
	return &Rasterizer{
		prim:  prim,
		forms: forms,
		modes: []Mode{ModeForeignObject, ModeCompositor},
	}
}

// Page is the page surface needed by the CDP-backed primitive.
type Page interface {
	formstate.Reader
	RenderForeignObject(ctx context.Context, params cdpcontrol.RasterParams) ([]byte, error)
	CaptureClip(ctx context.Context, params cdpcontrol.RasterParams) ([]byte, error)
}

// NewForPage wires a Rasterizer to a live page.
func NewForPage(p Page) *Rasterizer {
	return New(PagePrimitive{Page: p}, p)
}

// Result is a rendered frame with the page background painted beneath it.
type Result struct {
	Image *image.RGBA
	Mode  Mode
	// Fallback is true when the primary mode failed or came back empty.
	Fallback bool
}

// Rasterize renders req.Rect. The returned image is exactly req.Rect.W by
// req.Rect.H. An error means no mode produced any image at all.
func (r *Rasterizer) Rasterize(ctx context.Context, req Request) (Result, error) {
	if req.Rect.W < 1 || req.Rect.H < 1 {
		return Result{}, cdpcontrol.NewError(cdpcontrol.CodeValidation, "raster rect must be at least 1x1", nil)
	}
	if r.forms != nil && req.Form == nil {
		snap, err := formstate.Capture(ctx, r.forms)
		if err != nil {
			slog.Debug("raster form snapshot failed", "error", err)
		} else {
			req.Form = snap.Patches()
		}
	}

	var (
		best     image.Image
		bestMode Mode
		lastErr  error
	)
	for i, mode := range r.modes {
		img, err := r.prim.Render(ctx, mode, req)
		if err != nil {
			slog.Debug("raster mode failed", "mode", mode, "error", err)
			lastErr = err
			continue
		}
		best, bestMode = img, mode
		if i == len(r.modes)-1 || !MostlyTransparent(img) {
			break
		}
		slog.Debug("raster mode mostly transparent", "mode", mode)
	}
	if best == nil {
		return Result{}, fmt.Errorf("raster: all modes failed: %w", lastErr)
	}
	return Result{
		Image:    compose(best, req),
		Mode:     bestMode,
		Fallback: bestMode != r.modes[0],
	}, nil
}

// MostlyTransparent samples a 10x10 grid at cell centres and reports whether
// more than 90% of the samples have zero alpha. Empty images count as
// transparent.
func MostlyTransparent(img image.Image) bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return true
	}
	transparent := 0
	for yi := 0; yi < sampleGrid; yi++ {
		for xi := 0; xi < sampleGrid; xi++ {
			x := b.Min.X + int((float64(xi)+0.5)*float64(w)/sampleGrid)
			y := b.Min.Y + int((float64(yi)+0.5)*float64(h)/sampleGrid)
			if _, _, _, a := img.At(x, y).RGBA(); a == 0 {
				transparent++
			}
		}
	}
	return float64(transparent)/float64(sampleGrid*sampleGrid) > transparentThreshold
}

// compose paints the background and draws src over it at 1:1, scaling only
// when the primitive returned device pixels for a high-DPR page.
func compose(src image.Image, req Request) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, req.Rect.W, req.Rect.H))
	bg := req.Background
	if bg == nil {
		bg = color.White
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	sb := src.Bounds()
	if sb.Dx() == req.Rect.W && sb.Dy() == req.Rect.H {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	return dst
}

// PagePrimitive renders through the page bridge: foreignObject in the page
// for the primary mode, Page.captureScreenshot for the fallback.
type PagePrimitive struct {
	Page Page
}

func (p PagePrimitive) Render(ctx context.Context, mode Mode, req Request) (image.Image, error) {
	var (
		data []byte
		err  error
	)
	switch mode {
	case ModeForeignObject:
		data, err = p.Page.RenderForeignObject(ctx, req.params())
	case ModeCompositor:
		params := req.params()
		params.Form = nil
		data, err = p.Page.CaptureClip(ctx, params)
	default:
		return nil, fmt.Errorf("raster: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("raster: decode %s png: %w", mode, err)
	}
	return img, nil
}
