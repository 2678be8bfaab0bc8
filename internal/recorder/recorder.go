// Package recorder drives a capture session: it rasterizes the region at a
// steady rate, draws the overlays, feeds the frames to an encoder and stops
// at the byte or duration cap.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/encoder"
	"github.com/dgnsrekt/regioncap/internal/eventtap"
	"github.com/dgnsrekt/regioncap/internal/overlay"
	"github.com/dgnsrekt/regioncap/internal/raster"
	"github.com/dgnsrekt/regioncap/internal/region"
)

// State is the controller lifecycle: Idle, Armed, Recording, Finalizing and
// back to Idle.
type State string

const (
	StateIdle       State = "idle"
	StateArmed      State = "armed"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

// Stop reasons.
const (
	ReasonStopped  = "stopped"
	ReasonBytes    = "byte_budget"
	ReasonDuration = "duration"
	ReasonAborted  = "aborted"
)

// Page is the live page surface a session needs.
type Page interface {
	eventtap.Installer
	LayoutMetrics(ctx context.Context) (cdpcontrol.LayoutMetrics, error)
	BackgroundColor(ctx context.Context) (cdpcontrol.BackgroundColor, error)
	Selection(ctx context.Context) (cdpcontrol.SelectionState, error)
}

// Rasterizer renders one document rectangle.
type Rasterizer interface {
	Rasterize(ctx context.Context, req raster.Request) (raster.Result, error)
}

// Blob is the finished recording.
type Blob struct {
	MimeType     string
	Data         []byte
	Width        int
	Height       int
	FPS          int
	Frames       int64
	Duration     time.Duration
	StopReason   string
	DroppedBytes int
	Captions     []eventtap.Caption
}

func (b *Blob) Size() int { return len(b.Data) }

// Truncated is true when a cap ended the recording.
func (b *Blob) Truncated() bool {
	return b.StopReason == ReasonBytes || b.StopReason == ReasonDuration
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State         `json:"state"`
	Region     region.Region `json:"region"`
	MimeType   string        `json:"mime_type,omitempty"`
	Bytes      int           `json:"bytes"`
	Frames     int64         `json:"frames"`
	Skipped    int64         `json:"skipped_ticks"`
	Elapsed    time.Duration `json:"elapsed"`
	StopReason string        `json:"stop_reason,omitempty"`
}

// Option customises a Controller.
type Option func(*Controller)

func WithEncoderFactory(f encoder.Factory) Option { return func(c *Controller) { c.factory = f } }

func WithRasterizer(r Rasterizer) Option { return func(c *Controller) { c.raster = r } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// Controller records one region of one page. It is single use: after Stop
// resolves it stays Idle and Stop keeps returning the same Blob.
type Controller struct {
	page    Page
	pointer *eventtap.PointerState
	exclude string
	opts    Options
	factory encoder.Factory
	raster  Rasterizer
	now     func() time.Time

	mu sync.Mutex
	// state covers Idle and Armed; once a session exists it reports the
	// session's phase.
	state    State
	region   *region.Region
	sess     *session
	starting bool
}

// NewController arms a controller for reg. pointer is shared with the
// event tap; exclude is a CSS selector list for the recorder's own chrome.
func NewController(page Page, reg region.Region, opts Options, pointer *eventtap.PointerState, exclude string, options ...Option) *Controller {
	c := &Controller{
		page:    page,
		pointer: pointer,
		exclude: exclude,
		opts:    opts.WithDefaults(),
		factory: encoder.NewNegotiator("", true),
		now:     time.Now,
		state:   StateIdle,
	}
	if rp, ok := page.(raster.Page); ok {
		c.raster = raster.NewForPage(rp)
	}
	if c.pointer == nil {
		c.pointer = eventtap.NewPointerState()
	}
	if reg.Validate() == nil {
		r := reg
		c.region = &r
		c.state = StateArmed
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.sess != nil {
		return c.sess.phase()
	}
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.stateLocked()}
	if c.region != nil {
		st.Region = *c.region
	}
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		s.fill(&st)
	}
	return st
}

// Start begins recording. Precondition failures (no region, no encoder,
// no rasterizer) return an error, leave the controller Idle and clear the
// region so the caller can pick again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch state := c.stateLocked(); {
	case c.sess != nil || c.starting:
		c.mu.Unlock()
		return cdpcontrol.NewError(cdpcontrol.CodeInvalidState, fmt.Sprintf("cannot start while %s; controllers are single use", state), nil)
	case c.region == nil:
		c.mu.Unlock()
		return cdpcontrol.NewError(cdpcontrol.CodeNoRegion, "no region selected", nil)
	case state != StateArmed:
		c.mu.Unlock()
		return cdpcontrol.NewError(cdpcontrol.CodeInvalidState, fmt.Sprintf("cannot start while %s", state), nil)
	}
	if err := c.opts.Validate(); err != nil {
		c.resetLocked(err)
		c.mu.Unlock()
		return err
	}
	if c.raster == nil {
		err := cdpcontrol.NewError(cdpcontrol.CodeRasterUnavailable, "no rasterizer for page", nil)
		c.resetLocked(err)
		c.mu.Unlock()
		return err
	}
	reg := *c.region
	c.starting = true
	c.mu.Unlock()

	// Session setup talks to the page; State and Status stay responsive
	// meanwhile and report Armed.
	s, err := c.newSession(ctx, reg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		c.resetLocked(err)
		return err
	}
	c.sess = s
	c.state = StateIdle
	slog.Info("recorder started",
		"width", s.width, "height", s.height, "fps", c.opts.FPS,
		"max_seconds", c.opts.MaxSeconds, "max_bytes", c.opts.MaxBytes,
		"bitrate", c.opts.Bitrate(), "mime_type", s.enc.MimeType(),
		"follow_viewport", s.followViewport)
	return nil
}

func (c *Controller) resetLocked(err error) {
	c.state = StateIdle
	c.region = nil
	slog.Warn("recorder start failed", "error", err)
}

// Stop finalizes the session and returns the recording. Teardown begins
// immediately; ctx only bounds the wait for the final blob.
func (c *Controller) Stop(ctx context.Context) (*Blob, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil, cdpcontrol.NewError(cdpcontrol.CodeInvalidState, "not recording", nil)
	}
	go s.finalize(ReasonStopped)
	select {
	case <-s.done:
		return s.blob, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abort tears the session down without waiting for the result.
func (c *Controller) Abort() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		s.finalize(ReasonAborted)
	}
}

// Done is closed once the session has been finalized, whatever stopped it.
// It is nil before Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.done
}

func (c *Controller) newSession(ctx context.Context, reg region.Region) (*session, error) {
	w, h := reg.CanvasSize()
	opts := c.opts
	enc, err := c.factory.New(ctx, encoder.Config{
		Width:     w,
		Height:    h,
		FPS:       opts.FPS,
		Bitrate:   opts.Bitrate(),
		Timeslice: opts.Timeslice,
	})
	if err != nil {
		return nil, err
	}
	ov, err := overlay.NewRenderer()
	if err != nil {
		return nil, cdpcontrol.NewError(cdpcontrol.CodeRasterUnavailable, "overlay renderer unavailable", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		page:       c.page,
		raster:     c.raster,
		enc:        enc,
		overlay:    ov,
		pointer:    c.pointer,
		exclude:    c.exclude,
		opts:       opts,
		region:     reg,
		width:      w,
		height:     h,
		now:        c.now,
		background: color.White,
		display:    image.NewRGBA(image.Rect(0, 0, w, h)),
		budget:     budget{max: opts.MaxBytes},
		ctx:        sctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	if bg, err := c.page.BackgroundColor(ctx); err != nil {
		slog.Debug("recorder background probe failed", "error", err)
	} else {
		s.background = color.RGBA{R: bg.RGBA[0], G: bg.RGBA[1], B: bg.RGBA[2], A: 255}
	}
	s.followViewport = reg.Source == region.SourceFullScreen
	if !s.followViewport {
		if m, err := c.page.LayoutMetrics(ctx); err != nil {
			slog.Debug("recorder layout probe failed", "error", err)
		} else {
			s.followViewport = reg.IsFullScreenLike(m.ViewportWidth, m.ViewportHeight)
		}
	}

	s.started = c.now()
	s.startedWall = time.Now()
	s.track = eventtap.NewTrack(s.started)
	if err := enc.Start(sctx, s.onChunk); err != nil {
		cancel()
		return nil, cdpcontrol.NewError(cdpcontrol.CodeNoEncoder, "encoder failed to start", err)
	}

	// The first frame after the stream opens is often blank, so one frame is
	// drawn now and another shortly after.
	if err := s.draw(); err != nil {
		var coded *cdpcontrol.CodedError
		if errors.As(err, &coded) && coded.Code == cdpcontrol.CodeRasterUnavailable {
			if stopErr := enc.Stop(); stopErr != nil {
				slog.Debug("recorder encoder stop failed", "error", stopErr)
			}
			cancel()
			return nil, err
		}
		slog.Debug("recorder prime frame failed", "error", err)
	}
	s.run()

	tap := eventtap.New(c.pointer, s.track, c.now)
	if remove, err := tap.Install(sctx, c.page); err != nil {
		slog.Warn("recorder event tap unavailable", "error", err)
	} else {
		s.setRemoveTap(remove)
	}
	return s, nil
}

// session is one recording. All teardown goes through finalize.
type session struct {
	page    Page
	raster  Rasterizer
	enc     encoder.Encoder
	overlay *overlay.Renderer
	pointer *eventtap.PointerState
	track   *eventtap.Track
	exclude string
	opts    Options
	region  region.Region
	width   int
	height  int
	now     func() time.Time

	// followViewport is decided once at start: the session records the
	// whole viewport at its current size, scaled into the fixed frame.
	followViewport bool

	background  color.Color
	started     time.Time
	startedWall time.Time

	displayMu sync.Mutex
	display   *image.RGBA

	busy     atomic.Bool
	inflight sync.WaitGroup
	frames   atomic.Int64
	skipped  atomic.Int64

	budgetMu sync.Mutex
	budget   budget

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	loopDone chan struct{}

	// lifeMu guards the fields below and orders tick admission against
	// teardown.
	lifeMu     sync.Mutex
	running    bool
	finalizing bool
	primer     *time.Timer
	deadline   *time.Timer
	removeTap  func()

	finalizeOnce sync.Once
	done         chan struct{}
	blob         *Blob
	err          error
	reason       string
}

func (s *session) run() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.finalizing {
		return
	}
	s.running = true
	s.primer = time.AfterFunc(s.opts.PrimeDelay, s.tick)
	s.deadline = time.AfterFunc(s.opts.maxDuration()-time.Since(s.startedWall), func() { s.finalize(ReasonDuration) })
	go s.loop()
}

func (s *session) setRemoveTap(remove func()) {
	s.lifeMu.Lock()
	if !s.finalizing {
		s.removeTap = remove
		remove = nil
	}
	s.lifeMu.Unlock()
	if remove != nil {
		remove()
	}
}

func (s *session) phase() State {
	select {
	case <-s.done:
		return StateIdle
	default:
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.finalizing {
		return StateFinalizing
	}
	return StateRecording
}

// loop is the frame pump: each interval it hands the display image to the
// encoder, then schedules a redraw.
func (s *session) loop() {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.opts.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pump()
			go s.tick()
		}
	}
}

func (s *session) pump() {
	s.displayMu.Lock()
	defer s.displayMu.Unlock()
	if s.display == nil {
		return
	}
	if err := s.enc.WriteFrame(s.display); err != nil {
		slog.Debug("recorder frame write failed", "error", err)
	}
}

// tick redraws the display unless a redraw is already in flight, in which
// case the tick is dropped rather than queued.
func (s *session) tick() {
	s.lifeMu.Lock()
	if s.finalizing {
		s.lifeMu.Unlock()
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.lifeMu.Unlock()
		s.skipped.Add(1)
		slog.Debug("recorder tick skipped")
		return
	}
	s.inflight.Add(1)
	s.lifeMu.Unlock()

	defer func() {
		s.busy.Store(false)
		s.inflight.Done()
	}()
	if err := s.draw(); err != nil {
		slog.Debug("recorder frame failed", "error", err)
	}
}

// draw rasterizes the region at the current scroll offset, adds the
// overlays and replaces the display image.
func (s *session) draw() error {
	ctx, cancel := context.WithTimeout(s.ctx, frameTimeout)
	defer cancel()

	metrics, err := s.page.LayoutMetrics(ctx)
	if err != nil {
		return fmt.Errorf("layout metrics: %w", err)
	}
	src := s.region
	scaleX, scaleY := 1.0, 1.0
	if s.followViewport && metrics.ViewportWidth >= 1 && metrics.ViewportHeight >= 1 {
		src.Width, src.Height = metrics.ViewportWidth, metrics.ViewportHeight
		scaleX, scaleY = float64(s.width)/src.Width, float64(s.height)/src.Height
	}
	res, err := s.raster.Rasterize(ctx, raster.Request{
		Rect:       src.SourceRect(metrics.ScrollX, metrics.ScrollY),
		Background: s.background,
		Exclude:    s.exclude,
	})
	if err != nil {
		return err
	}

	frame := res.Image
	if b := frame.Bounds(); b.Dx() != s.width || b.Dy() != s.height {
		scaled := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), frame, b, draw.Src, nil)
		frame = scaled
	}

	var sel *cdpcontrol.SelectionState
	if s.opts.Selection {
		if st, err := s.page.Selection(ctx); err == nil {
			sel = &st
		} else {
			slog.Debug("recorder selection read failed", "error", err)
		}
	}
	now := s.now()
	s.overlay.Draw(frame, overlay.Frame{
		Region:    src,
		ScaleX:    scaleX,
		ScaleY:    scaleY,
		Now:       now,
		Pointer:   s.pointer.Snapshot(),
		Captions:  s.track.Window(now, s.opts.CaptionWindow),
		Selection: sel,
	})

	s.displayMu.Lock()
	if s.display != nil {
		s.display = frame
	}
	s.displayMu.Unlock()
	s.frames.Add(1)
	return nil
}

func (s *session) onChunk(chunk []byte) {
	s.budgetMu.Lock()
	exhausted := s.budget.add(chunk)
	s.budgetMu.Unlock()
	if exhausted {
		// finalize waits for the encoder, which is delivering this chunk.
		go s.finalize(ReasonBytes)
	}
}

// finalize is the single teardown path. The first caller's reason wins;
// every caller returns once teardown is complete.
func (s *session) finalize(reason string) {
	s.finalizeOnce.Do(func() {
		s.reason = reason
		slog.Info("recorder finalizing", "reason", reason)

		// Timers and listeners first; they are cheap and synchronous.
		s.lifeMu.Lock()
		s.finalizing = true
		running := s.running
		if s.primer != nil {
			s.primer.Stop()
		}
		if s.deadline != nil {
			s.deadline.Stop()
		}
		removeTap := s.removeTap
		s.removeTap = nil
		s.lifeMu.Unlock()

		close(s.stop)
		if removeTap != nil {
			removeTap()
		}
		if running {
			<-s.loopDone
		}

		// Let an in-flight redraw land before the encoder goes away.
		s.inflight.Wait()

		encErr := s.enc.Stop()
		s.budgetMu.Lock()
		s.budget.seal()
		data := s.budget.bytes()
		dropped := s.budget.dropped
		s.budgetMu.Unlock()

		s.displayMu.Lock()
		s.display = nil
		s.displayMu.Unlock()
		s.cancel()

		s.blob = &Blob{
			MimeType:     s.enc.MimeType(),
			Data:         data,
			Width:        s.width,
			Height:       s.height,
			FPS:          s.opts.FPS,
			Frames:       s.frames.Load(),
			Duration:     s.now().Sub(s.started),
			StopReason:   reason,
			DroppedBytes: dropped,
			Captions:     s.track.Entries(),
		}
		if encErr != nil && len(data) == 0 {
			s.err = fmt.Errorf("recorder: encoder stop: %w", encErr)
		} else if encErr != nil {
			slog.Warn("recorder encoder stop failed", "error", encErr)
		}
		slog.Info("recorder finalized",
			"reason", reason, "bytes", len(data), "dropped_bytes", dropped,
			"frames", s.blob.Frames, "skipped_ticks", s.skipped.Load(),
			"duration", s.blob.Duration)
		close(s.done)
	})
	<-s.done
}

func (s *session) fill(st *Status) {
	st.MimeType = s.enc.MimeType()
	s.budgetMu.Lock()
	st.Bytes = s.budget.keptBytes
	s.budgetMu.Unlock()
	st.Frames = s.frames.Load()
	st.Skipped = s.skipped.Load()
	st.Elapsed = s.now().Sub(s.started)
	select {
	case <-s.done:
		st.StopReason = s.reason
		st.Elapsed = s.blob.Duration
	default:
	}
}
