package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func connectFake(t *testing.T, fb *fakeBrowser) (*Client, *Page) {
	t.Helper()
	c := NewClient(fb.URL(), "", 2*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	p, err := c.Page(context.Background(), "A")
	if err != nil {
		t.Fatalf("Page(A) = %v", err)
	}
	return c, p
}

func okEnvelope(data any) string {
	b, _ := json.Marshal(map[string]any{"ok": true, "data": data})
	return string(b)
}

func TestPageCaptureClipHidesExcludedAndClips(t *testing.T) {
	fb := newFakeBrowser(t, fakeTarget{ID: "A", Type: "page", URL: "https://example.com/"})
	var (
		mu      sync.Mutex
		scripts []string
	)
	fb.handleEval(func(expr string) string {
		mu.Lock()
		scripts = append(scripts, expr)
		mu.Unlock()
		return okEnvelope(nil)
	})
	png := []byte("\x89PNG-fake")
	fb.handle("Page.captureScreenshot", func(fakeCommand) (any, string) {
		return map[string]any{"data": base64.StdEncoding.EncodeToString(png)}, ""
	})
	_, p := connectFake(t, fb)

	got, err := p.CaptureClip(context.Background(), RasterParams{SX: 10, SY: 520, SW: 300, SH: 200, Exclude: "#recorder"})
	if err != nil {
		t.Fatalf("CaptureClip() = %v", err)
	}
	if string(got) != string(png) {
		t.Fatalf("CaptureClip() = %q; want %q", got, png)
	}

	var params struct {
		Format string `json:"format"`
		Clip   struct {
			X, Y, Width, Height, Scale float64
		} `json:"clip"`
	}
	if err := json.Unmarshal(fb.lastParams("Page.captureScreenshot"), &params); err != nil {
		t.Fatalf("unmarshal screenshot params: %v", err)
	}
	if params.Clip.X != 10 || params.Clip.Y != 520 || params.Clip.Width != 300 || params.Clip.Height != 200 || params.Clip.Scale != 1 {
		t.Fatalf("clip = %+v; want {10 520 300 200 1}", params.Clip)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(scripts) != 2 {
		t.Fatalf("CaptureClip() ran %d scripts; want install + remove", len(scripts))
	}
	if !strings.Contains(scripts[0], `"#recorder"`) || !strings.Contains(scripts[0], hideStyleID) {
		t.Fatalf("first script does not install the hide style: %s", scripts[0])
	}
	if !strings.Contains(scripts[1], "st.remove()") {
		t.Fatalf("second script does not remove the hide style: %s", scripts[1])
	}
}

func TestPageRenderForeignObjectDecodesPNG(t *testing.T) {
	fb := newFakeBrowser(t, fakeTarget{ID: "A", Type: "page", URL: "https://example.com/"})
	scriptCh := make(chan string, 1)
	fb.handleEval(func(expr string) string {
		scriptCh <- expr
		return okEnvelope(base64.StdEncoding.EncodeToString([]byte("png-bytes")))
	})
	_, p := connectFake(t, fb)

	value := "typed"
	got, err := p.RenderForeignObject(context.Background(), RasterParams{
		SX: 1, SY: 2, SW: 3, SH: 4,
		Form: []FormPatch{{Index: 0, Kind: "input", Value: &value}},
	})
	if err != nil {
		t.Fatalf("RenderForeignObject() = %v", err)
	}
	if string(got) != "png-bytes" {
		t.Fatalf("RenderForeignObject() = %q; want %q", got, "png-bytes")
	}
	script := <-scriptCh
	if !strings.Contains(script, `"value":"typed"`) {
		t.Fatalf("render script does not carry the form patch: %s", script)
	}
	if !strings.Contains(script, "foreignObject") {
		t.Fatalf("render script does not use foreignObject: %s", script)
	}
}

func TestPageEvalSurfacesPageErrorCode(t *testing.T) {
	fb := newFakeBrowser(t, fakeTarget{ID: "A", Type: "page", URL: "https://example.com/"})
	fb.handleEval(func(string) string {
		return `{"ok":false,"error_code":"RASTER_UNAVAILABLE","error_message":"2d context unavailable"}`
	})
	_, p := connectFake(t, fb)

	_, err := p.RenderForeignObject(context.Background(), RasterParams{SW: 1, SH: 1})
	var codedErr *CodedError
	if !errors.As(err, &codedErr) || codedErr.Code != CodeRasterUnavailable {
		t.Fatalf("RenderForeignObject() = %v; want %s", err, CodeRasterUnavailable)
	}
}

func TestPageInstallTapRoutesBindingCalls(t *testing.T) {
	fb := newFakeBrowser(t, fakeTarget{ID: "A", Type: "page", URL: "https://example.com/"})
	fb.handleEval(func(string) string { return okEnvelope(nil) })
	fb.handle("Runtime.addBinding", func(fakeCommand) (any, string) { return map[string]any{}, "" })
	fb.handle("Runtime.removeBinding", func(fakeCommand) (any, string) { return map[string]any{}, "" })
	_, p := connectFake(t, fb)

	events := make(chan TapEvent, 4)
	remove, err := p.InstallTap(context.Background(), "__tap", func(evt TapEvent) { events <- evt })
	if err != nil {
		t.Fatalf("InstallTap() = %v", err)
	}

	// Other bindings and other sessions are ignored.
	fb.emit("Runtime.bindingCalled", "session-A", map[string]any{"name": "__other", "payload": `{"type":"key","key":"x"}`})
	fb.emit("Runtime.bindingCalled", "session-Z", map[string]any{"name": "__tap", "payload": `{"type":"key","key":"y"}`})
	fb.emit("Runtime.bindingCalled", "session-A", map[string]any{"name": "__tap", "payload": `{"type":"click","x":12,"y":34}`})

	select {
	case evt := <-events:
		if evt.Type != "click" || evt.X != 12 || evt.Y != 34 {
			t.Fatalf("tap event = %+v; want click at (12,34)", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tap event not delivered")
	}

	remove()
	fb.emit("Runtime.bindingCalled", "session-A", map[string]any{"name": "__tap", "payload": `{"type":"key","key":"z"}`})
	select {
	case evt := <-events:
		t.Fatalf("event after removal: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}

	methods := strings.Join(fb.methods(), ",")
	for _, want := range []string{"Runtime.enable", "Runtime.addBinding", "Runtime.removeBinding"} {
		if !strings.Contains(methods, want) {
			t.Fatalf("commands %s missing %s", methods, want)
		}
	}
}

func TestPageLayoutMetrics(t *testing.T) {
	fb := newFakeBrowser(t, fakeTarget{ID: "A", Type: "page", URL: "https://example.com/"})
	fb.handle("Page.getLayoutMetrics", func(fakeCommand) (any, string) {
		return map[string]any{
			"cssVisualViewport": map[string]any{"pageX": 0, "pageY": 480, "clientWidth": 1280, "clientHeight": 720},
			"cssContentSize":    map[string]any{"width": 1280, "height": 4000},
		}, ""
	})
	_, p := connectFake(t, fb)

	m, err := p.LayoutMetrics(context.Background())
	if err != nil {
		t.Fatalf("LayoutMetrics() = %v", err)
	}
	if m.ScrollY != 480 || m.ViewportWidth != 1280 || m.ContentHeight != 4000 {
		t.Fatalf("LayoutMetrics() = %+v", m)
	}
}

func TestScriptsCarryArguments(t *testing.T) {
	scan := jsScanRegion(ViewportRect{Left: 10, Top: 20, Width: 300, Height: 200}, 30, 6)
	if !strings.Contains(scan, mustJSON(t, ViewportRect{Left: 10, Top: 20, Width: 300, Height: 200})) {
		t.Fatalf("scan script missing region: %s", scan)
	}
	if !strings.Contains(scan, `document.querySelectorAll("body *")`) {
		t.Fatalf("scan script does not walk body descendants")
	}
	tap := jsInstallTap("__regioncapEmit")
	if !strings.Contains(tap, `"__regioncapEmit"`) {
		t.Fatalf("tap script missing binding name")
	}
	for _, ev := range []string{`"pointermove"`, `"click"`, `"keydown"`, `"selectionchange"`} {
		if !strings.Contains(tap, ev+", on") {
			t.Fatalf("tap script missing %s listener", ev)
		}
	}
	if strings.Count(tap, ", true);") < 8 {
		t.Fatalf("tap listeners are not all capture phase")
	}
}
