package controller

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/config"
	"github.com/dgnsrekt/regioncap/internal/diagnostics"
	"github.com/dgnsrekt/regioncap/internal/encoder"
	"github.com/dgnsrekt/regioncap/internal/events"
	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/region"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"github.com/dgnsrekt/regioncap/internal/telemetry"
	"golang.org/x/time/rate"
)

// Version is reported by the health endpoint and written into HAR exports.
const Version = "0.1.0"

// DefaultExclude matches the recorder's own page chrome.
const DefaultExclude = "#regioncap-toolbar"

// Page is everything the service drives on one live page.
type Page interface {
	recorder.Page
	region.Picker
	diagnostics.Scanner
	Info() cdpcontrol.PageInfo
}

// Browser lists and opens pages.
type Browser interface {
	ListPages(ctx context.Context) ([]cdpcontrol.PageInfo, error)
	OpenPage(ctx context.Context, pageID string) (Page, error)
}

// ClientBrowser adapts a cdpcontrol.Client to Browser.
type ClientBrowser struct {
	Client *cdpcontrol.Client
}

func (b ClientBrowser) ListPages(ctx context.Context) ([]cdpcontrol.PageInfo, error) {
	return b.Client.ListPages(ctx)
}

func (b ClientBrowser) OpenPage(ctx context.Context, pageID string) (Page, error) {
	p, err := b.Client.Page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AttachFunc connects telemetry to a page target.
type AttachFunc func(ctx context.Context, targetID string) (*telemetry.Monitor, error)

// Option customises a Service.
type Option func(*Service)

func WithEncoderFactory(f encoder.Factory) Option { return func(s *Service) { s.factory = f } }

// WithRecorderOptions appends options to every controller the service creates.
func WithRecorderOptions(opts ...recorder.Option) Option {
	return func(s *Service) { s.recOpts = append(s.recOpts, opts...) }
}

func WithTelemetryAttacher(fn AttachFunc) Option { return func(s *Service) { s.attach = fn } }

func WithJournal(j *storage.Journal) Option { return func(s *Service) { s.journal = j } }

func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.httpClient = c } }

// WithEventBroker publishes lifecycle events to b.
func WithEventBroker(b *events.Broker) Option { return func(s *Service) { s.events = b } }

// Service owns the live recordings and the telemetry monitors for the pages
// they run on. At most one recording runs per page.
type Service struct {
	browser    Browser
	store      *storage.Store
	journal    *storage.Journal
	events     *events.Broker
	cfg        config.Config
	factory    encoder.Factory
	recOpts    []recorder.Option
	attach     AttachFunc
	httpClient *http.Client
	exclude    string

	mu       sync.Mutex
	active   map[string]*activeRecording
	byPage   map[string]string
	monitors map[string]*telemetry.Monitor
	limiters map[string]*rate.Limiter
	closed   bool
	wg       sync.WaitGroup
}

func NewService(browser Browser, store *storage.Store, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		browser:  browser,
		store:    store,
		cfg:      cfg,
		factory:  encoder.NewNegotiator(cfg.FFmpegPath, cfg.AllowMJPEG),
		exclude:  DefaultExclude,
		active:   make(map[string]*activeRecording),
		byPage:   make(map[string]string),
		monitors: make(map[string]*telemetry.Monitor),
		limiters: make(map[string]*rate.Limiter),
	}
	s.attach = func(ctx context.Context, targetID string) (*telemetry.Monitor, error) {
		return telemetry.Attach(ctx, cfg.CDPURL(), targetID, cfg.Telemetry)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) openPage(ctx context.Context, pageID string) (Page, error) {
	if err := s.requireNonEmpty(pageID, "page_id"); err != nil {
		return nil, err
	}
	return s.browser.OpenPage(ctx, strings.TrimSpace(pageID))
}

func (s *Service) ListPages(ctx context.Context) ([]cdpcontrol.PageInfo, error) {
	return s.browser.ListPages(ctx)
}

// PickArea lets the user drag a rectangle on the page.
func (s *Service) PickArea(ctx context.Context, pageID string) (region.Region, error) {
	p, err := s.openPage(ctx, pageID)
	if err != nil {
		return region.Region{}, err
	}
	return region.PickArea(ctx, p, s.cfg.PickTimeout())
}

// PickElement lets the user click an element and returns its box.
func (s *Service) PickElement(ctx context.Context, pageID string) (region.Region, error) {
	p, err := s.openPage(ctx, pageID)
	if err != nil {
		return region.Region{}, err
	}
	return region.PickElement(ctx, p, s.cfg.PickTimeout())
}

// Diagnostics scans reg on the page. A nil region scans the full viewport.
func (s *Service) Diagnostics(ctx context.Context, pageID string, reg *region.Region, limit int) (diagnostics.Report, error) {
	p, err := s.openPage(ctx, pageID)
	if err != nil {
		return diagnostics.Report{}, err
	}
	var r region.Region
	if reg != nil {
		r = *reg
	} else if r, err = region.PickFullScreen(ctx, p); err != nil {
		return diagnostics.Report{}, err
	}
	return diagnostics.Collect(ctx, p, r, limit)
}

// monitorFor returns the page's telemetry monitor, attaching one on first use.
// Attach failures are logged and yield nil.
func (s *Service) monitorFor(ctx context.Context, info cdpcontrol.PageInfo) *telemetry.Monitor {
	s.mu.Lock()
	m, ok := s.monitors[info.PageID]
	s.mu.Unlock()
	if ok || s.attach == nil || info.TargetID == "" {
		return m
	}

	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	m, err := s.attach(actx, info.TargetID)
	if err != nil {
		slog.Warn("controller telemetry attach failed", "page_id", info.PageID, "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.monitors[info.PageID]; ok || s.closed {
		m.Close()
		return existing
	}
	s.monitors[info.PageID] = m
	return m
}

func (s *Service) limiter(pageID string) *rate.Limiter {
	if s.cfg.StartsPerMinute <= 0 {
		return nil
	}
	l, ok := s.limiters[pageID]
	if !ok {
		burst := s.cfg.StartBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(float64(s.cfg.StartsPerMinute)/60), burst)
		s.limiters[pageID] = l
	}
	return l
}

// Close aborts every live recording, waits for them to be saved and detaches
// telemetry.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	recs := make([]*activeRecording, 0, len(s.active))
	for _, rec := range s.active {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	for _, rec := range recs {
		rec.ctrl.Abort()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.monitors {
		m.Close()
		delete(s.monitors, id)
	}
}
