package controller

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/config"
	"github.com/dgnsrekt/regioncap/internal/encoder"
	"github.com/dgnsrekt/regioncap/internal/events"
	"github.com/dgnsrekt/regioncap/internal/raster"
	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/region"
	"github.com/dgnsrekt/regioncap/internal/report"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"github.com/dgnsrekt/regioncap/internal/telemetry"
)

type fakePage struct {
	info cdpcontrol.PageInfo
}

func (p *fakePage) Info() cdpcontrol.PageInfo { return p.info }

func (p *fakePage) LayoutMetrics(context.Context) (cdpcontrol.LayoutMetrics, error) {
	return cdpcontrol.LayoutMetrics{ViewportWidth: 1280, ViewportHeight: 720}, nil
}

func (p *fakePage) BackgroundColor(context.Context) (cdpcontrol.BackgroundColor, error) {
	return cdpcontrol.BackgroundColor{CSS: "#ffffff", RGBA: [4]uint8{255, 255, 255, 255}}, nil
}

func (p *fakePage) Selection(context.Context) (cdpcontrol.SelectionState, error) {
	return cdpcontrol.SelectionState{}, nil
}

func (p *fakePage) InstallTap(context.Context, string, func(cdpcontrol.TapEvent)) (func(), error) {
	return func() {}, nil
}

func (p *fakePage) PickArea(context.Context, time.Duration) (cdpcontrol.DragResult, error) {
	return cdpcontrol.DragResult{X0: 300, Y0: 200, X1: 100, Y1: 50}, nil
}

func (p *fakePage) PickElement(context.Context, time.Duration) (cdpcontrol.ViewportRect, error) {
	return cdpcontrol.ViewportRect{Left: 10, Top: 20, Width: 0.4, Height: 30}, nil
}

func (p *fakePage) Viewport(context.Context) (cdpcontrol.Viewport, error) {
	return cdpcontrol.Viewport{Width: 1280, Height: 720, DevicePixelRatio: 1}, nil
}

func (p *fakePage) ScanRegion(context.Context, cdpcontrol.ViewportRect, int, int) (cdpcontrol.ScanResult, error) {
	return cdpcontrol.ScanResult{ViewportWidth: 1280, ViewportHeight: 720, Elements: []cdpcontrol.ScanElement{
		{Tag: "button", ID: "save", Rect: cdpcontrol.ViewportRect{Left: 20, Top: 20, Width: 80, Height: 24}, Display: "inline-block", Visible: "visible", Opacity: 1},
	}}, nil
}

func (p *fakePage) Environment(context.Context) (cdpcontrol.PageEnv, error) {
	return cdpcontrol.PageEnv{UserAgent: "test", PageURL: p.info.URL}, nil
}

func (p *fakePage) BrowserVersion(context.Context) (cdpcontrol.BrowserVersion, error) {
	return cdpcontrol.BrowserVersion{}, nil
}

type fakeBrowser struct {
	pages map[string]*fakePage
}

func newFakeBrowser(ids ...string) *fakeBrowser {
	b := &fakeBrowser{pages: make(map[string]*fakePage)}
	for _, id := range ids {
		b.pages[id] = &fakePage{info: cdpcontrol.PageInfo{PageID: id, TargetID: "target-" + id, URL: "http://app.local/" + id}}
	}
	return b
}

func (b *fakeBrowser) ListPages(context.Context) ([]cdpcontrol.PageInfo, error) {
	out := make([]cdpcontrol.PageInfo, 0, len(b.pages))
	for _, p := range b.pages {
		out = append(out, p.info)
	}
	return out, nil
}

func (b *fakeBrowser) OpenPage(_ context.Context, id string) (Page, error) {
	p, ok := b.pages[id]
	if !ok {
		return nil, cdpcontrol.NewError(cdpcontrol.CodePageNotFound, "page not found: "+id, nil)
	}
	return p, nil
}

type fakeRaster struct{}

func (fakeRaster) Rasterize(_ context.Context, req raster.Request) (raster.Result, error) {
	return raster.Result{Image: image.NewRGBA(image.Rect(0, 0, req.Rect.W, req.Rect.H)), Mode: raster.ModeForeignObject}, nil
}

// fakeEncoder emits 100 bytes per frame.
type fakeEncoder struct {
	mu      sync.Mutex
	onChunk func([]byte)
}

func (e *fakeEncoder) MimeType() string { return encoder.MimeMJPEG }

func (e *fakeEncoder) Start(_ context.Context, onChunk func([]byte)) error {
	e.mu.Lock()
	e.onChunk = onChunk
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) WriteFrame(*image.RGBA) error {
	e.mu.Lock()
	emit := e.onChunk
	e.mu.Unlock()
	emit(make([]byte, 100))
	return nil
}

func (e *fakeEncoder) Stop() error { return nil }

type fakeFactory struct{}

func (fakeFactory) New(context.Context, encoder.Config) (encoder.Encoder, error) {
	return &fakeEncoder{}, nil
}

func newTestService(t *testing.T, mutate func(*config.Config), opts ...Option) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	cfg := *config.Defaults()
	cfg.StartsPerMinute = 0
	cfg.Recording = recorder.Options{FPS: 20, MaxSeconds: 30, MaxBytes: 1 << 20, PrimeDelay: time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	base := []Option{
		WithEncoderFactory(fakeFactory{}),
		WithRecorderOptions(recorder.WithRasterizer(fakeRaster{})),
		WithTelemetryAttacher(func(context.Context, string) (*telemetry.Monitor, error) {
			return telemetry.NewMonitor(cfg.Telemetry), nil
		}),
	}
	s := NewService(newFakeBrowser("p1", "p2"), store, cfg, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, store
}

func codeOf(err error) string {
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

var testRegion = region.Region{Left: 10, Top: 10, Width: 64, Height: 48}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("p1", "page_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	if err := s.requireNonEmpty("   ", "page_id"); err == nil {
		t.Fatalf("requireNonEmpty() = nil; want validation error")
	} else if got, ok := err.(*cdpcontrol.CodedError); !ok {
		t.Fatalf("requireNonEmpty() = %T; want *cdpcontrol.CodedError", err)
	} else if got.Code != cdpcontrol.CodeValidation {
		t.Fatalf("requireNonEmpty() code = %q; want %q", got.Code, cdpcontrol.CodeValidation)
	} else if got.Message != "page_id is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got.Message, "page_id is required")
	}
}

func TestPickers(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	area, err := s.PickArea(ctx, "p1")
	if err != nil {
		t.Fatalf("PickArea() error = %v", err)
	}
	if area.Left != 100 || area.Top != 50 || area.Width != 200 || area.Height != 150 {
		t.Fatalf("PickArea() = %+v; want normalised 100,50 200x150", area)
	}

	el, err := s.PickElement(ctx, "p1")
	if err != nil {
		t.Fatalf("PickElement() error = %v", err)
	}
	if el.Width != 1 || el.Height != 30 {
		t.Fatalf("PickElement() = %+v; want width clamped to 1", el)
	}

	if _, err := s.PickArea(ctx, "missing"); codeOf(err) != cdpcontrol.CodePageNotFound {
		t.Fatalf("PickArea(missing) code = %q; want %q", codeOf(err), cdpcontrol.CodePageNotFound)
	}
}

func TestDiagnosticsDefaultsToViewport(t *testing.T) {
	s, _ := newTestService(t, nil)
	rep, err := s.Diagnostics(context.Background(), "p1", nil, 0)
	if err != nil {
		t.Fatalf("Diagnostics() error = %v", err)
	}
	if rep.Region.Width != 1280 || len(rep.Elements) != 1 || rep.Elements[0].Selector != "#save" {
		t.Fatalf("Diagnostics() = %+v", rep)
	}
}

func TestStartRecordingRequiresRegion(t *testing.T) {
	s, _ := newTestService(t, nil)
	_, err := s.StartRecording(context.Background(), StartRequest{PageID: "p1"})
	if codeOf(err) != cdpcontrol.CodeNoRegion {
		t.Fatalf("StartRecording() code = %q; want %q", codeOf(err), cdpcontrol.CodeNoRegion)
	}
	_, err = s.StartRecording(context.Background(), StartRequest{PageID: "p1", Region: &region.Region{Width: 0, Height: 10}})
	if codeOf(err) != cdpcontrol.CodeValidation {
		t.Fatalf("StartRecording(empty region) code = %q; want %q", codeOf(err), cdpcontrol.CodeValidation)
	}
}

func TestStartStopSavesRecording(t *testing.T) {
	s, store := newTestService(t, nil)
	ctx := context.Background()

	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if !rec.Active || rec.Status == nil || rec.Status.State != recorder.StateRecording {
		t.Fatalf("StartRecording() = %+v; want active recording", rec)
	}
	time.Sleep(150 * time.Millisecond)

	meta, err := s.StopRecording(ctx, rec.ID)
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if meta.ID != rec.ID || meta.StopReason != recorder.ReasonStopped || meta.SizeBytes == 0 {
		t.Fatalf("StopRecording() = %+v", meta)
	}
	if meta.Width != 64 || meta.Height != 48 || meta.PageURL != "http://app.local/p1" {
		t.Fatalf("StopRecording() geometry = %dx%d url %q", meta.Width, meta.Height, meta.PageURL)
	}

	video, mime, err := store.ReadVideo(rec.ID)
	if err != nil {
		t.Fatalf("ReadVideo() error = %v", err)
	}
	if len(video) != meta.SizeBytes || mime != encoder.MimeMJPEG {
		t.Fatalf("ReadVideo() = %d bytes %q; want %d %q", len(video), mime, meta.SizeBytes, encoder.MimeMJPEG)
	}

	again, err := s.StopRecording(ctx, rec.ID)
	if err != nil || again.ID != rec.ID {
		t.Fatalf("second StopRecording() = %+v, %v", again, err)
	}

	got, err := s.GetRecording(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecording() error = %v", err)
	}
	if got.Active || got.Meta == nil {
		t.Fatalf("GetRecording() = %+v; want saved recording", got)
	}
}

func TestOneRecordingPerPage(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	first, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion}); codeOf(err) != cdpcontrol.CodeInvalidState {
		t.Fatalf("second StartRecording() code = %q; want %q", codeOf(err), cdpcontrol.CodeInvalidState)
	}
	other, err := s.StartRecording(ctx, StartRequest{PageID: "p2", FullScreen: true})
	if err != nil {
		t.Fatalf("StartRecording(p2) error = %v", err)
	}
	if other.Status.Region.Width != 1280 || other.Status.Region.Source != region.SourceFullScreen {
		t.Fatalf("full screen region = %+v", other.Status.Region)
	}

	list, err := s.ListRecordings(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListRecordings() = %d, %v; want 2 live", len(list), err)
	}

	if _, err := s.StopRecording(ctx, first.ID); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if _, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion}); err != nil {
		t.Fatalf("StartRecording() after stop error = %v", err)
	}
}

func TestStartRateLimit(t *testing.T) {
	s, _ := newTestService(t, func(c *config.Config) {
		c.StartsPerMinute = 1
		c.StartBurst = 1
	})
	ctx := context.Background()

	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := s.StopRecording(ctx, rec.ID); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if _, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion}); codeOf(err) != cdpcontrol.CodeRateLimited {
		t.Fatalf("StartRecording() code = %q; want %q", codeOf(err), cdpcontrol.CodeRateLimited)
	}
	if _, err := s.StartRecording(ctx, StartRequest{PageID: "p2", Region: &testRegion}); err != nil {
		t.Fatalf("StartRecording(p2) error = %v; limits are per page", err)
	}
}

func TestDurationBoundSavesWithoutStop(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion, Options: recorder.Options{MaxSeconds: 0.2}})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := s.GetRecording(ctx, rec.ID)
		if err == nil && got.Meta != nil {
			if got.Meta.StopReason != recorder.ReasonDuration || !got.Meta.Truncated {
				t.Fatalf("saved meta = %+v; want duration stop", got.Meta)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("recording not saved after duration bound; last = %+v, %v", got, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDeleteRecording(t *testing.T) {
	s, store := newTestService(t, nil)
	ctx := context.Background()

	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := s.DeleteRecording(ctx, rec.ID); codeOf(err) != cdpcontrol.CodeInvalidState {
		t.Fatalf("DeleteRecording(live) code = %q; want %q", codeOf(err), cdpcontrol.CodeInvalidState)
	}
	if _, err := s.StopRecording(ctx, rec.ID); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if err := s.DeleteRecording(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteRecording() error = %v", err)
	}
	if _, err := store.GetRecording(rec.ID); codeOf(err) != cdpcontrol.CodeRecordingNotFound {
		t.Fatalf("GetRecording() after delete code = %q; want %q", codeOf(err), cdpcontrol.CodeRecordingNotFound)
	}
}

func TestTelemetryAttachFailureDoesNotBlockRecording(t *testing.T) {
	s, _ := newTestService(t, nil, WithTelemetryAttacher(func(context.Context, string) (*telemetry.Monitor, error) {
		return nil, errors.New("no websocket")
	}))
	ctx := context.Background()
	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := s.StopRecording(ctx, rec.ID); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	bundle, err := s.CreateReport(ctx, report.Request{PageID: "p1", RecordingID: rec.ID, Title: "broken save"})
	if err != nil {
		t.Fatalf("CreateReport() error = %v", err)
	}
	if len(bundle.Warnings) != 1 || bundle.Warnings[0] != "telemetry not attached" {
		t.Fatalf("CreateReport() warnings = %v", bundle.Warnings)
	}
}

func TestCreateReport(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.CreateReport(ctx, report.Request{PageID: "p1", Title: "  "}); codeOf(err) != cdpcontrol.CodeValidation {
		t.Fatalf("CreateReport(no title) code = %q; want %q", codeOf(err), cdpcontrol.CodeValidation)
	}

	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := s.StopRecording(ctx, rec.ID); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	bundle, err := s.CreateReport(ctx, report.Request{PageID: "p1", RecordingID: rec.ID, Title: " Save button does nothing "})
	if err != nil {
		t.Fatalf("CreateReport() error = %v", err)
	}
	if bundle.Title != "Save button does nothing" || bundle.Recording == nil || bundle.Recording.ID != rec.ID {
		t.Fatalf("CreateReport() = %+v", bundle)
	}
	if bundle.Diagnostics == nil || bundle.Diagnostics.Region != testRegion {
		t.Fatalf("CreateReport() diagnostics = %+v; want recording region", bundle.Diagnostics)
	}
	if len(bundle.Warnings) != 0 {
		t.Fatalf("CreateReport() warnings = %v; want none", bundle.Warnings)
	}

	raw, err := s.GetReport(ctx, bundle.ID)
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if !strings.Contains(string(raw), `"has_har": true`) || !strings.Contains(string(raw), "Save button does nothing") {
		t.Fatalf("GetReport() = %s", raw)
	}
	harRaw, err := s.GetReportHAR(ctx, bundle.ID)
	if err != nil || !strings.Contains(string(harRaw), `"regioncap"`) {
		t.Fatalf("GetReportHAR() = %s, %v", harRaw, err)
	}

	if _, err := s.CreateReport(ctx, report.Request{PageID: "p1", RecordingID: "7b0c9a52-8f1e-4b7a-9d3c-2e4f6a8b0c1d", Title: "x"}); codeOf(err) != cdpcontrol.CodeRecordingNotFound {
		t.Fatalf("CreateReport(unknown recording) code = %q; want %q", codeOf(err), cdpcontrol.CodeRecordingNotFound)
	}
}

func TestCloseSavesLiveRecordings(t *testing.T) {
	s, store := newTestService(t, nil)
	rec, err := s.StartRecording(context.Background(), StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	s.Close()
	meta, err := store.GetRecording(rec.ID)
	if err != nil {
		t.Fatalf("GetRecording() after Close error = %v", err)
	}
	if meta.StopReason != recorder.ReasonAborted {
		t.Fatalf("StopReason = %q; want %q", meta.StopReason, recorder.ReasonAborted)
	}
	if _, err := s.StartRecording(context.Background(), StartRequest{PageID: "p1", Region: &testRegion}); codeOf(err) != cdpcontrol.CodeInvalidState {
		t.Fatalf("StartRecording() after Close code = %q; want %q", codeOf(err), cdpcontrol.CodeInvalidState)
	}
}

func TestLifecycleEventsArePublished(t *testing.T) {
	broker := events.NewBroker()
	_, ch := broker.Subscribe()
	s, _ := newTestService(t, nil, WithEventBroker(broker))
	ctx := context.Background()

	rec, err := s.StartRecording(ctx, StartRequest{PageID: "p1", Region: &testRegion})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := s.StopRecording(ctx, rec.ID); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	var kinds []string
	for len(kinds) < 2 {
		select {
		case ev := <-ch:
			if ev.RecordingID != rec.ID || ev.PageID != "p1" {
				t.Fatalf("event = %+v", ev)
			}
			kinds = append(kinds, ev.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("events = %v; want started and saved", kinds)
		}
	}
	if kinds[0] != "recording_started" || kinds[1] != "recording_saved" {
		t.Fatalf("events = %v", kinds)
	}
}
