package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"
)

// Page is a handle on one page target. All calls serialize on the page lock
// held by the owning Client.
type Page struct {
	client *Client
	info   PageInfo
}

func (p *Page) Info() PageInfo { return p.info }

// Eval runs a wrapped page script and decodes its envelope data into out.
func (p *Page) Eval(ctx context.Context, js string, out any) error {
	return p.client.evalOnPage(ctx, p.info.PageID, js, 0, out)
}

// PickArea waits for the user to drag a rectangle on the page and returns the
// raw drag points. A timeout removes the picker layer before returning.
func (p *Page) PickArea(ctx context.Context, timeout time.Duration) (DragResult, error) {
	var out DragResult
	err := p.client.evalOnPage(ctx, p.info.PageID, jsPickArea(), timeout, &out)
	if err != nil {
		p.cancelPick(err)
		return DragResult{}, err
	}
	return out, nil
}

// PickElement waits for the user to click an element and returns its
// bounding rectangle.
func (p *Page) PickElement(ctx context.Context, timeout time.Duration) (ViewportRect, error) {
	var out ViewportRect
	err := p.client.evalOnPage(ctx, p.info.PageID, jsPickElement(), timeout, &out)
	if err != nil {
		p.cancelPick(err)
		return ViewportRect{}, err
	}
	return out, nil
}

func (p *Page) cancelPick(cause error) {
	if !p.client.asCode(cause, CodeEvalTimeout) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.client.evalOnPage(ctx, p.info.PageID, jsCancelPick(), 0, nil); err != nil {
		slog.Debug("cdpcontrol pick cancel failed", "page_id", p.info.PageID, "error", err)
	}
}

func (p *Page) Viewport(ctx context.Context) (Viewport, error) {
	var out Viewport
	if err := p.Eval(ctx, jsViewport(), &out); err != nil {
		return Viewport{}, err
	}
	return out, nil
}

func (p *Page) BackgroundColor(ctx context.Context) (BackgroundColor, error) {
	var out BackgroundColor
	if err := p.Eval(ctx, jsBackgroundColor(), &out); err != nil {
		return BackgroundColor{}, err
	}
	return out, nil
}

// LayoutMetrics reads scroll and viewport geometry without running script.
func (p *Page) LayoutMetrics(ctx context.Context) (LayoutMetrics, error) {
	var out LayoutMetrics
	err := p.client.withPageSession(ctx, p.info.PageID, func(cdp *rawCDP, _ *tabSession, sessionID string) error {
		m, err := cdp.layoutMetrics(ctx, sessionID)
		if err != nil {
			return newError(CodeEvalFailure, "layout metrics failed", err)
		}
		out = m
		return nil
	})
	return out, err
}

func (p *Page) ReadFormControls(ctx context.Context) ([]FormControl, error) {
	var out []FormControl
	if err := p.Eval(ctx, jsReadFormControls(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderForeignObject returns PNG bytes of the requested document rectangle
// drawn from a patched clone of the DOM.
func (p *Page) RenderForeignObject(ctx context.Context, params RasterParams) ([]byte, error) {
	var encoded string
	if err := p.Eval(ctx, jsRenderForeignObject(params), &encoded); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newError(CodeEvalFailure, "decode foreignObject png", err)
	}
	return data, nil
}

// CaptureClip screenshots the requested document rectangle through the
// compositor with excluded elements hidden for the duration of the capture.
func (p *Page) CaptureClip(ctx context.Context, params RasterParams) ([]byte, error) {
	if err := p.Eval(ctx, jsInstallHideStyle(params.Exclude), nil); err != nil {
		return nil, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Eval(cleanupCtx, jsRemoveHideStyle(), nil); err != nil {
			slog.Debug("cdpcontrol hide style removal failed", "page_id", p.info.PageID, "error", err)
		}
	}()

	var encoded string
	err := p.client.withPageSession(ctx, p.info.PageID, func(cdp *rawCDP, _ *tabSession, sessionID string) error {
		clip := &clipRect{
			X:      float64(params.SX),
			Y:      float64(params.SY),
			Width:  float64(params.SW),
			Height: float64(params.SH),
			Scale:  1,
		}
		data, err := cdp.captureScreenshot(ctx, sessionID, "png", 0, clip)
		if err != nil {
			return newError(CodeEvalFailure, "compositor capture failed", err)
		}
		encoded = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newError(CodeEvalFailure, "decode screenshot", err)
	}
	return data, nil
}

func (p *Page) Selection(ctx context.Context) (SelectionState, error) {
	var out SelectionState
	if err := p.Eval(ctx, jsReadSelection(), &out); err != nil {
		return SelectionState{}, err
	}
	return out, nil
}

// InstallTap exposes a binding named binding and installs the interaction
// listeners that call it. fn receives every decoded event on the read loop
// goroutine and must not block. The returned func removes both.
func (p *Page) InstallTap(ctx context.Context, binding string, fn func(TapEvent)) (func(), error) {
	var (
		cdp       *rawCDP
		sessionID string
	)
	err := p.client.withPageSession(ctx, p.info.PageID, func(c *rawCDP, _ *tabSession, sid string) error {
		if err := c.addBinding(ctx, sid, binding); err != nil {
			return newError(CodeEvalFailure, "add binding failed", err)
		}
		cdp, sessionID = c, sid
		return nil
	})
	if err != nil {
		return nil, err
	}

	unregister := cdp.registerEventHandler("Runtime.bindingCalled", func(sid string, params json.RawMessage) {
		if sid != sessionID {
			return
		}
		var call struct {
			Name    string `json:"name"`
			Payload string `json:"payload"`
		}
		if json.Unmarshal(params, &call) != nil || call.Name != binding {
			return
		}
		var evt TapEvent
		if err := json.Unmarshal([]byte(call.Payload), &evt); err != nil {
			slog.Debug("cdpcontrol tap payload invalid", "page_id", p.info.PageID, "error", err)
			return
		}
		fn(evt)
	})

	if err := p.Eval(ctx, jsInstallTap(binding), nil); err != nil {
		unregister()
		p.removeBinding(cdp, sessionID, binding)
		return nil, err
	}

	return func() {
		unregister()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Eval(ctx, jsRemoveTap(), nil); err != nil {
			slog.Debug("cdpcontrol tap removal failed", "page_id", p.info.PageID, "error", err)
		}
		p.removeBinding(cdp, sessionID, binding)
	}, nil
}

func (p *Page) removeBinding(cdp *rawCDP, sessionID, binding string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cdp.removeBinding(ctx, sessionID, binding); err != nil {
		slog.Debug("cdpcontrol remove binding failed", "page_id", p.info.PageID, "error", err)
	}
}

// ScanRegion runs the diagnostics element scan for a viewport rectangle.
func (p *Page) ScanRegion(ctx context.Context, region ViewportRect, limit, minSize int) (ScanResult, error) {
	var out ScanResult
	if err := p.Eval(ctx, jsScanRegion(region, limit, minSize), &out); err != nil {
		return ScanResult{}, err
	}
	return out, nil
}

func (p *Page) Environment(ctx context.Context) (PageEnv, error) {
	var out PageEnv
	if err := p.Eval(ctx, jsPageEnv(), &out); err != nil {
		return PageEnv{}, err
	}
	return out, nil
}

func (p *Page) BrowserVersion(ctx context.Context) (BrowserVersion, error) {
	return p.client.BrowserVersion(ctx)
}
