package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/events"
	"github.com/dgnsrekt/regioncap/internal/eventtap"
	"github.com/dgnsrekt/regioncap/internal/notify"
	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/region"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"github.com/google/uuid"
)

// StartRequest arms and starts a recording. Either Region or FullScreen must
// be set; Options fields left at zero take the configured defaults.
type StartRequest struct {
	PageID     string           `json:"page_id"`
	Region     *region.Region   `json:"region,omitempty"`
	FullScreen bool             `json:"full_screen,omitempty"`
	Options    recorder.Options `json:"options"`
}

// Recording is the view of a recording, live or saved.
type Recording struct {
	ID     string                 `json:"id"`
	PageID string                 `json:"page_id"`
	Active bool                   `json:"active"`
	Status *recorder.Status       `json:"status,omitempty"`
	Meta   *storage.RecordingMeta `json:"meta,omitempty"`
}

type activeRecording struct {
	id        string
	info      cdpcontrol.PageInfo
	ctrl      *recorder.Controller
	startedAt time.Time

	finishOnce sync.Once
	finished   chan struct{}
	meta       storage.RecordingMeta
	err        error
}

func (rec *activeRecording) view() Recording {
	st := rec.ctrl.Status()
	return Recording{ID: rec.id, PageID: rec.info.PageID, Active: true, Status: &st}
}

func (s *Service) recordingOptions(o recorder.Options) recorder.Options {
	out := s.cfg.Recording
	if o.FPS != 0 {
		out.FPS = o.FPS
	}
	if o.MaxSeconds != 0 {
		out.MaxSeconds = o.MaxSeconds
	}
	if o.MaxBytes != 0 {
		out.MaxBytes = o.MaxBytes
	}
	if o.Selection {
		out.Selection = true
	}
	return out
}

// StartRecording resolves the region, starts a controller and attaches
// telemetry. The recording is saved when it stops, however it stops.
func (s *Service) StartRecording(ctx context.Context, req StartRequest) (Recording, error) {
	if req.Region == nil && !req.FullScreen {
		return Recording{}, cdpcontrol.NewError(cdpcontrol.CodeNoRegion, "region or full_screen is required", nil)
	}
	if req.Region != nil {
		if err := req.Region.Validate(); err != nil {
			return Recording{}, err
		}
	}
	page, err := s.openPage(ctx, req.PageID)
	if err != nil {
		return Recording{}, err
	}
	info := page.Info()

	var reg region.Region
	if req.Region != nil {
		reg = *req.Region
	} else if reg, err = region.PickFullScreen(ctx, page); err != nil {
		return Recording{}, err
	}

	id := uuid.NewString()
	if err := s.reserve(info.PageID, id); err != nil {
		return Recording{}, err
	}

	options := append([]recorder.Option{recorder.WithEncoderFactory(s.factory)}, s.recOpts...)
	ctrl := recorder.NewController(page, reg, s.recordingOptions(req.Options), eventtap.NewPointerState(), s.exclude, options...)
	if err := ctrl.Start(ctx); err != nil {
		s.release(info.PageID, id)
		return Recording{}, err
	}

	rec := &activeRecording{
		id:        id,
		info:      info,
		ctrl:      ctrl,
		startedAt: time.Now().UTC(),
		finished:  make(chan struct{}),
	}
	s.mu.Lock()
	s.active[id] = rec
	s.mu.Unlock()

	// Telemetry should cover the recorded interaction, so it is attached now
	// rather than when the report is made.
	s.monitorFor(ctx, info)
	s.record(storage.Event{Kind: "recording_started", RecordingID: id, PageID: info.PageID, Detail: reg})
	slog.Info("controller recording started", "recording_id", id, "page_id", info.PageID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctrl.Done()
		s.finish(rec)
	}()
	return rec.view(), nil
}

// reserve claims the page for recording id, applying the start rate limit.
func (s *Service) reserve(pageID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cdpcontrol.NewError(cdpcontrol.CodeInvalidState, "service is shutting down", nil)
	}
	if other, ok := s.byPage[pageID]; ok {
		return cdpcontrol.NewError(cdpcontrol.CodeInvalidState, fmt.Sprintf("page %s is already recording (%s)", pageID, other), nil)
	}
	if l := s.limiter(pageID); l != nil && !l.Allow() {
		return cdpcontrol.NewError(cdpcontrol.CodeRateLimited, "too many recording starts for page "+pageID, nil)
	}
	s.byPage[pageID] = id
	return nil
}

func (s *Service) release(pageID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byPage[pageID] == id {
		delete(s.byPage, pageID)
	}
}

// finish saves the blob once the controller is done.
func (s *Service) finish(rec *activeRecording) {
	rec.finishOnce.Do(func() {
		defer close(rec.finished)
		blob, err := rec.ctrl.Stop(context.Background())
		if err != nil {
			rec.err = err
			slog.Error("controller recording failed", "recording_id", rec.id, "error", err)
			s.record(storage.Event{Kind: "recording_failed", RecordingID: rec.id, PageID: rec.info.PageID, Detail: err.Error()})
			s.forget(rec)
			return
		}

		st := rec.ctrl.Status()
		meta := storage.RecordingMeta{
			ID:           rec.id,
			PageID:       rec.info.PageID,
			PageURL:      rec.info.URL,
			MimeType:     blob.MimeType,
			Width:        blob.Width,
			Height:       blob.Height,
			FPS:          blob.FPS,
			Frames:       blob.Frames,
			SizeBytes:    blob.Size(),
			DurationMS:   blob.Duration.Milliseconds(),
			StopReason:   blob.StopReason,
			Truncated:    blob.Truncated(),
			DroppedBytes: blob.DroppedBytes,
			Region:       st.Region,
			Captions:     blob.Captions,
			CreatedAt:    rec.startedAt,
		}
		if err := s.store.SaveRecording(meta, blob.Data); err != nil {
			rec.err = fmt.Errorf("controller: save recording: %w", err)
			slog.Error("controller recording save failed", "recording_id", rec.id, "error", err)
			s.forget(rec)
			return
		}
		saved, err := s.store.GetRecording(rec.id)
		if err == nil {
			meta = saved
		}
		rec.meta = meta
		s.forget(rec)

		s.record(storage.Event{Kind: "recording_saved", RecordingID: rec.id, PageID: rec.info.PageID, Detail: map[string]any{
			"size_bytes": meta.SizeBytes, "stop_reason": meta.StopReason, "mime_type": meta.MimeType,
		}})
		slog.Info("controller recording saved", "recording_id", rec.id, "size_bytes", meta.SizeBytes, "stop_reason", meta.StopReason)
		s.notifyReady(meta, blob.Duration)
	})
}

func (s *Service) forget(rec *activeRecording) {
	s.mu.Lock()
	delete(s.active, rec.id)
	s.mu.Unlock()
	s.release(rec.info.PageID, rec.id)
}

func (s *Service) notifyReady(meta storage.RecordingMeta, d time.Duration) {
	if s.cfg.NotifyURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := notify.SendRecordingReady(ctx, s.httpClient, s.cfg.NotifyURL, notify.RecordingReady{
		RecordingID: meta.ID,
		PageID:      meta.PageID,
		MimeType:    meta.MimeType,
		Size:        meta.SizeBytes,
		Duration:    d,
		Reason:      meta.StopReason,
	})
	if err != nil {
		slog.Warn("controller notify failed", "recording_id", meta.ID, "error", err)
	}
}

// record writes ev to the journal and publishes it to event subscribers.
func (s *Service) record(ev storage.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if s.events != nil {
		s.events.Publish(events.Event{Kind: ev.Kind, Time: ev.Time, RecordingID: ev.RecordingID, PageID: ev.PageID, Detail: ev.Detail})
	}
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ev); err != nil {
		slog.Debug("controller journal write failed", "kind", ev.Kind, "error", err)
	}
}

func (s *Service) lookupActive(id string) (*activeRecording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.active[id]
	return rec, ok
}

// StopRecording stops a live recording and returns its saved metadata.
// Stopping one that has already been saved returns the saved metadata.
func (s *Service) StopRecording(ctx context.Context, id string) (storage.RecordingMeta, error) {
	if err := s.requireNonEmpty(id, "recording_id"); err != nil {
		return storage.RecordingMeta{}, err
	}
	rec, ok := s.lookupActive(id)
	if !ok {
		return s.store.GetRecording(id)
	}
	if _, err := rec.ctrl.Stop(ctx); err != nil && ctx.Err() != nil {
		return storage.RecordingMeta{}, err
	}
	select {
	case <-rec.finished:
		return rec.meta, rec.err
	case <-ctx.Done():
		return storage.RecordingMeta{}, ctx.Err()
	}
}

func (s *Service) GetRecording(_ context.Context, id string) (Recording, error) {
	if err := s.requireNonEmpty(id, "recording_id"); err != nil {
		return Recording{}, err
	}
	if rec, ok := s.lookupActive(id); ok {
		return rec.view(), nil
	}
	meta, err := s.store.GetRecording(id)
	if err != nil {
		return Recording{}, err
	}
	return Recording{ID: meta.ID, PageID: meta.PageID, Meta: &meta}, nil
}

// ListRecordings returns live recordings first, then saved ones newest first.
func (s *Service) ListRecordings(_ context.Context) ([]Recording, error) {
	s.mu.Lock()
	live := make([]*activeRecording, 0, len(s.active))
	for _, rec := range s.active {
		live = append(live, rec)
	}
	s.mu.Unlock()
	sort.Slice(live, func(i, j int) bool { return live[i].startedAt.After(live[j].startedAt) })

	out := make([]Recording, 0, len(live))
	for _, rec := range live {
		out = append(out, rec.view())
	}
	saved, err := s.store.ListRecordings()
	if err != nil {
		return nil, err
	}
	for i := range saved {
		meta := saved[i]
		out = append(out, Recording{ID: meta.ID, PageID: meta.PageID, Meta: &meta})
	}
	return out, nil
}

func (s *Service) ReadVideo(_ context.Context, id string) ([]byte, string, error) {
	if _, ok := s.lookupActive(id); ok {
		return nil, "", cdpcontrol.NewError(cdpcontrol.CodeInvalidState, "recording is still running", nil)
	}
	return s.store.ReadVideo(id)
}

func (s *Service) DeleteRecording(_ context.Context, id string) error {
	if _, ok := s.lookupActive(id); ok {
		return cdpcontrol.NewError(cdpcontrol.CodeInvalidState, "stop the recording before deleting it", nil)
	}
	if err := s.store.DeleteRecording(id); err != nil {
		return err
	}
	s.record(storage.Event{Kind: "recording_deleted", RecordingID: id})
	return nil
}
