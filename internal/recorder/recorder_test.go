package recorder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/encoder"
	"github.com/dgnsrekt/regioncap/internal/eventtap"
	"github.com/dgnsrekt/regioncap/internal/raster"
	"github.com/dgnsrekt/regioncap/internal/region"
)

type fakePage struct {
	mu       sync.Mutex
	scrollX  float64
	scrollY  float64
	viewW    float64
	viewH    float64
	removed  atomic.Int32
	emit     func(cdpcontrol.TapEvent)
	bgGate   chan struct{}
	bgCalled chan struct{}
}

func (p *fakePage) setScroll(x, y float64) {
	p.mu.Lock()
	p.scrollX, p.scrollY = x, y
	p.mu.Unlock()
}

func (p *fakePage) setViewport(w, h float64) {
	p.mu.Lock()
	p.viewW, p.viewH = w, h
	p.mu.Unlock()
}

func (p *fakePage) LayoutMetrics(context.Context) (cdpcontrol.LayoutMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, h := p.viewW, p.viewH
	if w == 0 || h == 0 {
		w, h = 1280, 720
	}
	return cdpcontrol.LayoutMetrics{ScrollX: p.scrollX, ScrollY: p.scrollY, ViewportWidth: w, ViewportHeight: h}, nil
}

func (p *fakePage) BackgroundColor(context.Context) (cdpcontrol.BackgroundColor, error) {
	if p.bgCalled != nil {
		close(p.bgCalled)
	}
	if p.bgGate != nil {
		<-p.bgGate
	}
	return cdpcontrol.BackgroundColor{CSS: "#ffffff", RGBA: [4]uint8{255, 255, 255, 255}}, nil
}

func (p *fakePage) Selection(context.Context) (cdpcontrol.SelectionState, error) {
	return cdpcontrol.SelectionState{}, nil
}

func (p *fakePage) InstallTap(_ context.Context, _ string, fn func(cdpcontrol.TapEvent)) (func(), error) {
	p.mu.Lock()
	p.emit = fn
	p.mu.Unlock()
	return func() { p.removed.Add(1) }, nil
}

type fakeRaster struct {
	mu      sync.Mutex
	rects   []region.SourceRect
	err     func(call int) error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeRaster) Rasterize(_ context.Context, req raster.Request) (raster.Result, error) {
	f.mu.Lock()
	f.rects = append(f.rects, req.Rect)
	call := len(f.rects)
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-block
	}
	if f.err != nil {
		if err := f.err(call); err != nil {
			return raster.Result{}, err
		}
	}
	return raster.Result{Image: image.NewRGBA(image.Rect(0, 0, req.Rect.W, req.Rect.H)), Mode: raster.ModeForeignObject}, nil
}

func (f *fakeRaster) calls() []region.SourceRect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]region.SourceRect(nil), f.rects...)
}

// fakeEncoder emits chunkSize bytes per frame and a tail chunk on stop.
type fakeEncoder struct {
	chunkSize int
	tail      int
	stopErr   error

	mu      sync.Mutex
	onChunk func([]byte)
	frames  int
	stops   atomic.Int32
	stopAt  time.Time
	cfg     encoder.Config
}

func (e *fakeEncoder) MimeType() string { return "video/webm;codecs=vp9" }

func (e *fakeEncoder) Start(_ context.Context, onChunk func([]byte)) error {
	e.mu.Lock()
	e.onChunk = onChunk
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) WriteFrame(img *image.RGBA) error {
	e.mu.Lock()
	e.frames++
	emit := e.onChunk
	e.mu.Unlock()
	if e.chunkSize > 0 {
		emit(make([]byte, e.chunkSize))
	}
	return nil
}

func (e *fakeEncoder) Stop() error {
	if e.stops.Add(1) > 1 {
		return nil
	}
	e.mu.Lock()
	e.stopAt = time.Now()
	emit := e.onChunk
	e.mu.Unlock()
	if e.tail > 0 {
		emit(make([]byte, e.tail))
	}
	return e.stopErr
}

type fakeFactory struct {
	enc *fakeEncoder
	err error
}

func (f fakeFactory) New(_ context.Context, cfg encoder.Config) (encoder.Encoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enc.cfg = cfg
	return f.enc, nil
}

func newTestController(page *fakePage, ras *fakeRaster, enc *fakeEncoder, reg region.Region, opts Options) *Controller {
	return NewController(page, reg, opts, eventtap.NewPointerState(), "#recorder-toolbar",
		WithEncoderFactory(fakeFactory{enc: enc}),
		WithRasterizer(ras),
	)
}

func waitDone(t *testing.T, c *Controller, within time.Duration) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(within):
		t.Fatalf("session not finalized within %v", within)
	}
}

func codeOf(err error) string {
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func TestScenarioRegionRecording(t *testing.T) {
	page := &fakePage{}
	ras := &fakeRaster{}
	enc := &fakeEncoder{chunkSize: 1000, tail: 500}
	reg := region.Region{Left: 10, Top: 20, Width: 300, Height: 200, Source: region.SourceDrag}
	c := newTestController(page, ras, enc, reg, Options{FPS: 8, MaxSeconds: 0.5, MaxBytes: 2_000_000})

	if c.State() != StateArmed {
		t.Fatalf("State() = %s; want %s", c.State(), StateArmed)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("State() = %s; want %s", c.State(), StateRecording)
	}
	if enc.cfg.Width != 300 || enc.cfg.Height != 200 || enc.cfg.Bitrate != 2_880_000 {
		t.Fatalf("encoder config = %+v", enc.cfg)
	}
	time.Sleep(600 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	blob, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if blob.Size() > 2_000_000 || !strings.Contains(blob.MimeType, "video/") {
		t.Fatalf("blob size = %d type = %q", blob.Size(), blob.MimeType)
	}
	if blob.StopReason != ReasonDuration || !blob.Truncated() {
		t.Fatalf("StopReason = %q; want %q", blob.StopReason, ReasonDuration)
	}
	if blob.Width != 300 || blob.Height != 200 || blob.Frames < 1 {
		t.Fatalf("blob = %dx%d frames=%d", blob.Width, blob.Height, blob.Frames)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() after Stop = %s; want %s", c.State(), StateIdle)
	}
	if page.removed.Load() != 1 {
		t.Fatalf("tap removed %d times; want 1", page.removed.Load())
	}
	again, err := c.Stop(ctx)
	if err != nil || again != blob {
		t.Fatalf("second Stop() = %p, %v; want same blob", again, err)
	}
}

func TestStopKeepsTailChunk(t *testing.T) {
	enc := &fakeEncoder{tail: 700}
	c := newTestController(&fakePage{}, &fakeRaster{}, enc, region.Region{Width: 50, Height: 50}, Options{FPS: 4, MaxSeconds: 10, MaxBytes: 10_000})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	blob, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if blob.Size() != 700 || blob.StopReason != ReasonStopped || blob.Truncated() {
		t.Fatalf("blob size = %d reason = %q; want tail kept on manual stop", blob.Size(), blob.StopReason)
	}
}

func TestByteBudgetStopsRecording(t *testing.T) {
	enc := &fakeEncoder{chunkSize: 1000, tail: 1000}
	c := newTestController(&fakePage{}, &fakeRaster{}, enc, region.Region{Width: 40, Height: 30}, Options{FPS: 50, MaxSeconds: 30, MaxBytes: 4500})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitDone(t, c, 5*time.Second)

	blob, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if blob.Size() != 4000 {
		t.Fatalf("blob size = %d; want 4000 (crossing chunk dropped)", blob.Size())
	}
	if blob.StopReason != ReasonBytes || blob.DroppedBytes < 1000 {
		t.Fatalf("StopReason = %q dropped = %d", blob.StopReason, blob.DroppedBytes)
	}
	if n := enc.stops.Load(); n != 1 {
		t.Fatalf("encoder Stop() calls = %d; want 1", n)
	}
}

func TestDurationBound(t *testing.T) {
	enc := &fakeEncoder{}
	opts := Options{FPS: 10, MaxSeconds: 0.3, MaxBytes: 1 << 20}
	c := newTestController(&fakePage{}, &fakeRaster{}, enc, region.Region{Width: 20, Height: 20}, opts)
	begin := time.Now()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	waitDone(t, c, 5*time.Second)

	enc.mu.Lock()
	elapsed := enc.stopAt.Sub(begin)
	enc.mu.Unlock()
	limit := opts.maxDuration() + opts.tickInterval()
	if elapsed > limit {
		t.Fatalf("encoder stopped after %v; want <= %v", elapsed, limit)
	}
	if elapsed < opts.maxDuration() {
		t.Fatalf("encoder stopped after %v; want >= %v", elapsed, opts.maxDuration())
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	page := &fakePage{}
	enc := &fakeEncoder{chunkSize: 10}
	c := newTestController(page, &fakeRaster{}, enc, region.Region{Width: 20, Height: 20}, Options{FPS: 30, MaxSeconds: 30})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	var wg sync.WaitGroup
	for _, f := range []func(){
		func() { c.sess.finalize(ReasonBytes) },
		func() { _, _ = c.Stop(context.Background()) },
		func() { c.Abort() },
		func() { c.sess.finalize(ReasonDuration) },
	} {
		wg.Add(1)
		go func(f func()) {
			defer wg.Done()
			f()
		}(f)
	}
	wg.Wait()

	if n := enc.stops.Load(); n != 1 {
		t.Fatalf("encoder Stop() calls = %d; want 1", n)
	}
	if n := page.removed.Load(); n != 1 {
		t.Fatalf("tap removals = %d; want 1", n)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() = %s; want %s", c.State(), StateIdle)
	}
}

func TestSourceRectFollowsScroll(t *testing.T) {
	page := &fakePage{}
	ras := &fakeRaster{}
	reg := region.Region{Left: 10, Top: 20, Width: 300, Height: 200}
	c := newTestController(page, ras, &fakeEncoder{}, reg, Options{FPS: 1, MaxSeconds: 30, PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer c.Abort()

	page.setScroll(30, 500)
	c.sess.tick()

	rects := ras.calls()
	if len(rects) < 2 {
		t.Fatalf("rasterize calls = %d; want >= 2", len(rects))
	}
	first, last := rects[0], rects[len(rects)-1]
	if first != (region.SourceRect{X: 10, Y: 20, W: 300, H: 200}) {
		t.Fatalf("first rect = %+v", first)
	}
	if last.X-first.X != 30 || last.Y-first.Y != 500 || last.W != first.W || last.H != first.H {
		t.Fatalf("rect after scroll = %+v; want shifted by (30, 500)", last)
	}
}

func TestOverlappingTickIsSkippedAndStopWaitsForInflight(t *testing.T) {
	page := &fakePage{}
	ras := &fakeRaster{}
	c := newTestController(page, ras, &fakeEncoder{}, region.Region{Width: 20, Height: 20}, Options{FPS: 1, MaxSeconds: 30, PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	ras.mu.Lock()
	ras.block, ras.entered = block, entered
	ras.mu.Unlock()

	go c.sess.tick()
	<-entered
	before := len(ras.calls())
	c.sess.tick()
	if got := len(ras.calls()); got != before {
		t.Fatalf("rasterize calls = %d; want %d (re-entrant tick skipped)", got, before)
	}
	if c.sess.skipped.Load() < 1 {
		t.Fatal("skipped ticks = 0; want >= 1")
	}

	stopped := make(chan *Blob, 1)
	go func() {
		b, _ := c.Stop(context.Background())
		stopped <- b
	}()
	deadline := time.After(2 * time.Second)
	for page.removed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("listeners not removed while rasterization was in flight")
		case <-time.After(5 * time.Millisecond):
		}
	}
	select {
	case <-stopped:
		t.Fatal("Stop() resolved before the in-flight rasterization finished")
	case <-time.After(50 * time.Millisecond):
	}
	if c.State() != StateFinalizing {
		t.Fatalf("State() = %s; want %s", c.State(), StateFinalizing)
	}
	close(block)
	select {
	case b := <-stopped:
		if b == nil {
			t.Fatal("Stop() returned nil blob")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not resolve after rasterization finished")
	}
}

func TestTransientRasterFailuresAreAbsorbed(t *testing.T) {
	ras := &fakeRaster{err: func(call int) error {
		if call%2 == 0 {
			return errors.New("transient")
		}
		return nil
	}}
	c := newTestController(&fakePage{}, ras, &fakeEncoder{}, region.Region{Width: 20, Height: 20}, Options{FPS: 1, MaxSeconds: 30, PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	for i := 0; i < 4; i++ {
		c.sess.tick()
	}
	if c.State() != StateRecording {
		t.Fatalf("State() = %s; want %s", c.State(), StateRecording)
	}
	blob, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if blob.Frames != 3 {
		t.Fatalf("Frames = %d; want 3 successful draws", blob.Frames)
	}
}

func TestStartPreconditions(t *testing.T) {
	t.Run("no region", func(t *testing.T) {
		c := newTestController(&fakePage{}, &fakeRaster{}, &fakeEncoder{}, region.Region{}, Options{})
		if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeNoRegion {
			t.Fatalf("Start() = %v; want %s", err, cdpcontrol.CodeNoRegion)
		}
	})

	t.Run("no encoder clears selection", func(t *testing.T) {
		noEnc := cdpcontrol.NewError(cdpcontrol.CodeNoEncoder, "none", nil)
		c := NewController(&fakePage{}, region.Region{Width: 10, Height: 10}, Options{}, nil, "",
			WithEncoderFactory(fakeFactory{err: noEnc}), WithRasterizer(&fakeRaster{}))
		if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeNoEncoder {
			t.Fatalf("Start() = %v; want %s", err, cdpcontrol.CodeNoEncoder)
		}
		if c.State() != StateIdle {
			t.Fatalf("State() = %s; want %s", c.State(), StateIdle)
		}
		if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeNoRegion {
			t.Fatalf("retry Start() = %v; want %s", err, cdpcontrol.CodeNoRegion)
		}
	})

	t.Run("raster unavailable is fatal", func(t *testing.T) {
		enc := &fakeEncoder{}
		ras := &fakeRaster{err: func(int) error {
			return cdpcontrol.NewError(cdpcontrol.CodeRasterUnavailable, "no 2d context", nil)
		}}
		c := newTestController(&fakePage{}, ras, enc, region.Region{Width: 10, Height: 10}, Options{})
		if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeRasterUnavailable {
			t.Fatalf("Start() = %v; want %s", err, cdpcontrol.CodeRasterUnavailable)
		}
		if enc.stops.Load() != 1 {
			t.Fatalf("encoder Stop() calls = %d; want 1", enc.stops.Load())
		}
	})

	t.Run("invalid options", func(t *testing.T) {
		c := newTestController(&fakePage{}, &fakeRaster{}, &fakeEncoder{}, region.Region{Width: 10, Height: 10}, Options{FPS: 500})
		if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeValidation {
			t.Fatalf("Start() = %v; want %s", err, cdpcontrol.CodeValidation)
		}
	})

	t.Run("stop before start", func(t *testing.T) {
		c := newTestController(&fakePage{}, &fakeRaster{}, &fakeEncoder{}, region.Region{Width: 10, Height: 10}, Options{})
		if _, err := c.Stop(context.Background()); codeOf(err) != cdpcontrol.CodeInvalidState {
			t.Fatalf("Stop() = %v; want %s", err, cdpcontrol.CodeInvalidState)
		}
	})

	t.Run("single use", func(t *testing.T) {
		c := newTestController(&fakePage{}, &fakeRaster{}, &fakeEncoder{}, region.Region{Width: 10, Height: 10}, Options{PrimeDelay: time.Hour})
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start() = %v", err)
		}
		defer c.Abort()
		if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeInvalidState {
			t.Fatalf("second Start() = %v; want %s", err, cdpcontrol.CodeInvalidState)
		}
	})
}

func TestFullScreenFollowsViewportResize(t *testing.T) {
	page := &fakePage{}
	page.setViewport(1280, 720)
	ras := &fakeRaster{}
	enc := &fakeEncoder{}
	// Picked at an older viewport size; the frame keeps that size.
	c := newTestController(page, ras, enc, region.FullScreen(1024, 600), Options{FPS: 1, MaxSeconds: 30, PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer c.Abort()

	if enc.cfg.Width != 1024 || enc.cfg.Height != 600 {
		t.Fatalf("encoder size = %dx%d; want 1024x600", enc.cfg.Width, enc.cfg.Height)
	}
	rects := ras.calls()
	if len(rects) == 0 || rects[0] != (region.SourceRect{W: 1280, H: 720}) {
		t.Fatalf("first rect = %+v; want the 1280x720 viewport", rects)
	}

	page.setViewport(800, 500)
	c.sess.tick()
	rects = ras.calls()
	if last := rects[len(rects)-1]; last != (region.SourceRect{W: 800, H: 500}) {
		t.Fatalf("rect after resize = %+v; want 800x500", last)
	}
}

func TestViewportSizedRegionFollowsResize(t *testing.T) {
	page := &fakePage{}
	ras := &fakeRaster{}
	reg := region.Region{Width: 1280, Height: 720, Source: region.SourceDrag}
	c := newTestController(page, ras, &fakeEncoder{}, reg, Options{FPS: 1, MaxSeconds: 30, PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer c.Abort()

	page.setViewport(1000, 600)
	c.sess.tick()
	rects := ras.calls()
	if last := rects[len(rects)-1]; last != (region.SourceRect{W: 1000, H: 600}) {
		t.Fatalf("rect after resize = %+v; want 1000x600", last)
	}
}

func TestPartialRegionIgnoresResize(t *testing.T) {
	page := &fakePage{}
	ras := &fakeRaster{}
	reg := region.Region{Left: 10, Top: 20, Width: 300, Height: 200, Source: region.SourceDrag}
	c := newTestController(page, ras, &fakeEncoder{}, reg, Options{FPS: 1, MaxSeconds: 30, PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer c.Abort()

	page.setViewport(301, 201)
	c.sess.tick()
	rects := ras.calls()
	if last := rects[len(rects)-1]; last != (region.SourceRect{X: 10, Y: 20, W: 300, H: 200}) {
		t.Fatalf("rect after resize = %+v; want the region unchanged", last)
	}
}

func TestStatusDoesNotWaitForStart(t *testing.T) {
	page := &fakePage{bgGate: make(chan struct{}), bgCalled: make(chan struct{})}
	c := newTestController(page, &fakeRaster{}, &fakeEncoder{}, region.Region{Width: 10, Height: 10}, Options{PrimeDelay: time.Hour})

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()
	<-page.bgCalled

	got := make(chan State, 1)
	go func() { got <- c.Status().State }()
	select {
	case st := <-got:
		if st != StateArmed {
			t.Fatalf("Status().State during start = %s; want %s", st, StateArmed)
		}
	case <-time.After(time.Second):
		t.Fatalf("Status() blocked while Start was probing the page")
	}
	if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeInvalidState {
		t.Fatalf("concurrent Start() code = %q; want %q", codeOf(err), cdpcontrol.CodeInvalidState)
	}

	close(page.bgGate)
	if err := <-started; err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if st := c.State(); st != StateRecording {
		t.Fatalf("State() = %s; want %s", st, StateRecording)
	}
	c.Abort()
}

func TestPrimeFailureLogsEncoderStopError(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	ras := &fakeRaster{err: func(int) error {
		return cdpcontrol.NewError(cdpcontrol.CodeRasterUnavailable, "no canvas", nil)
	}}
	enc := &fakeEncoder{stopErr: errors.New("pipe closed")}
	c := newTestController(&fakePage{}, ras, enc, region.Region{Width: 10, Height: 10}, Options{PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); codeOf(err) != cdpcontrol.CodeRasterUnavailable {
		t.Fatalf("Start() code = %q; want %q", codeOf(err), cdpcontrol.CodeRasterUnavailable)
	}
	if n := enc.stops.Load(); n != 1 {
		t.Fatalf("encoder Stop() calls = %d; want 1", n)
	}
	if !strings.Contains(buf.String(), "recorder encoder stop failed") || !strings.Contains(buf.String(), "pipe closed") {
		t.Fatalf("expected encoder stop debug log, got %q", buf.String())
	}
}

func TestCaptionsUseControllerClock(t *testing.T) {
	page := &fakePage{}
	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewController(page, region.Region{Width: 10, Height: 10}, Options{PrimeDelay: time.Hour}, eventtap.NewPointerState(), "",
		WithEncoderFactory(fakeFactory{enc: &fakeEncoder{}}),
		WithRasterizer(&fakeRaster{}),
		WithClock(func() time.Time { return fixed }),
	)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	page.mu.Lock()
	emit := page.emit
	page.mu.Unlock()
	emit(cdpcontrol.TapEvent{Type: "click", X: 2, Y: 2})
	if p := c.pointer.Snapshot(); !p.LastClick.Equal(fixed) {
		t.Fatalf("LastClick = %v; want %v", p.LastClick, fixed)
	}
	blob, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if len(blob.Captions) != 1 || blob.Captions[0].At != 0 {
		t.Fatalf("Captions = %+v; want one caption at 0s", blob.Captions)
	}
}

func TestCaptionsReachTrack(t *testing.T) {
	page := &fakePage{}
	c := newTestController(page, &fakeRaster{}, &fakeEncoder{}, region.Region{Width: 10, Height: 10}, Options{PrimeDelay: time.Hour})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	page.mu.Lock()
	emit := page.emit
	page.mu.Unlock()
	emit(cdpcontrol.TapEvent{Type: "key", Key: "Enter"})
	blob, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if len(blob.Captions) != 1 || blob.Captions[0].Text != "Key Enter" {
		t.Fatalf("Captions = %+v", blob.Captions)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	if o.FPS != 8 || o.MaxSeconds != 30 || o.MaxBytes != 9961472 {
		t.Fatalf("WithDefaults() = %+v", o)
	}
	if got := o.Bitrate(); got != 2390753 {
		t.Fatalf("Bitrate() = %d; want 2390753", got)
	}
	if o.Timeslice != encoder.DefaultTimeslice || o.PrimeDelay != DefaultPrimeDelay {
		t.Fatalf("WithDefaults() timings = %v, %v", o.Timeslice, o.PrimeDelay)
	}
}
