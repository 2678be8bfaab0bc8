package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/eventtap"
	"github.com/dgnsrekt/regioncap/internal/region"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// RecordingMeta is the JSON sidecar stored next to a video.
type RecordingMeta struct {
	ID           string             `json:"id"`
	PageID       string             `json:"page_id"`
	PageURL      string             `json:"page_url,omitempty"`
	MimeType     string             `json:"mime_type"`
	Ext          string             `json:"ext"`
	Width        int                `json:"width"`
	Height       int                `json:"height"`
	FPS          int                `json:"fps"`
	Frames       int64              `json:"frames"`
	SizeBytes    int                `json:"size_bytes"`
	DurationMS   int64              `json:"duration_ms"`
	StopReason   string             `json:"stop_reason"`
	Truncated    bool               `json:"truncated"`
	DroppedBytes int                `json:"dropped_bytes,omitempty"`
	Region       region.Region      `json:"region"`
	Captions     []eventtap.Caption `json:"captions,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ReportMeta identifies a stored bug report.
type ReportMeta struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id,omitempty"`
	PageID      string    `json:"page_id"`
	HasHAR      bool      `json:"has_har"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps recordings and reports as plain files. There is no index; the
// sidecars are the source of truth.
type Store struct {
	dir string
	mu  sync.RWMutex
}

func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{recordingsDir, reportsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir %s: %w", sub, err)
		}
	}
	return &Store{dir: dir}, nil
}

const (
	recordingsDir = "recordings"
	reportsDir    = "reports"
)

func (s *Store) Dir() string { return s.dir }

func validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("invalid id: %q", id), nil)
	}
	return nil
}

// ExtForMime picks the file extension for a negotiated mime type.
func ExtForMime(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/x-motion-jpeg":
		return "mjpeg"
	}
	return "bin"
}

func (s *Store) recordingPath(id, ext string) string {
	return filepath.Join(s.dir, recordingsDir, id+"."+ext)
}

// SaveRecording writes the video and then its sidecar. A failed sidecar
// write removes the video again.
func (s *Store) SaveRecording(meta RecordingMeta, video []byte) error {
	if err := validateID(meta.ID); err != nil {
		return err
	}
	if meta.Ext == "" {
		meta.Ext = ExtForMime(meta.MimeType)
	}
	meta.SizeBytes = len(video)

	s.mu.Lock()
	defer s.mu.Unlock()

	videoPath := s.recordingPath(meta.ID, meta.Ext)
	if err := os.WriteFile(videoPath, video, 0o644); err != nil {
		return fmt.Errorf("storage: write video: %w", err)
	}
	if err := writeJSON(s.recordingPath(meta.ID, "json"), meta); err != nil {
		_ = os.Remove(videoPath)
		return err
	}
	return nil
}

func (s *Store) GetRecording(id string) (RecordingMeta, error) {
	if err := validateID(id); err != nil {
		return RecordingMeta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRecordingLocked(id)
}

func (s *Store) getRecordingLocked(id string) (RecordingMeta, error) {
	var meta RecordingMeta
	if err := readJSON(s.recordingPath(id, "json"), &meta); err != nil {
		if os.IsNotExist(err) {
			return RecordingMeta{}, cdpcontrol.NewError(cdpcontrol.CodeRecordingNotFound, "recording not found: "+id, nil)
		}
		return RecordingMeta{}, err
	}
	return meta, nil
}

// ListRecordings returns every recording, newest first.
func (s *Store) ListRecordings() ([]RecordingMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, recordingsDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("storage: glob: %w", err)
	}
	metas := make([]RecordingMeta, 0, len(matches))
	for _, path := range matches {
		var meta RecordingMeta
		if err := readJSON(path, &meta); err != nil {
			slog.Debug("storage skipping unreadable sidecar", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// ReadVideo returns the video bytes and their mime type.
func (s *Store) ReadVideo(id string) ([]byte, string, error) {
	meta, err := s.GetRecording(id)
	if err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.recordingPath(id, meta.Ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", cdpcontrol.NewError(cdpcontrol.CodeRecordingNotFound, "recording video not found: "+id, nil)
		}
		return nil, "", fmt.Errorf("storage: read video: %w", err)
	}
	return data, meta.MimeType, nil
}

func (s *Store) DeleteRecording(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.getRecordingLocked(id)
	if err != nil {
		return err
	}
	if err := os.Remove(s.recordingPath(id, meta.Ext)); err != nil {
		slog.Debug("storage video cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(s.recordingPath(id, "json")); err != nil {
		return fmt.Errorf("storage: remove sidecar: %w", err)
	}
	return nil
}

func (s *Store) reportPath(id, suffix string) string {
	return filepath.Join(s.dir, reportsDir, id+suffix)
}

// SaveReport writes the report body and, when harLog is non-nil, a HAR file
// beside it.
func (s *Store) SaveReport(meta ReportMeta, body any, harLog any) error {
	if err := validateID(meta.ID); err != nil {
		return err
	}
	meta.HasHAR = harLog != nil

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.reportPath(meta.ID, ".report.json"), struct {
		ReportMeta
		Body any `json:"body"`
	}{meta, body}); err != nil {
		return err
	}
	if harLog != nil {
		if err := writeJSON(s.reportPath(meta.ID, ".har"), harLog); err != nil {
			_ = os.Remove(s.reportPath(meta.ID, ".report.json"))
			return err
		}
	}
	return nil
}

// ReadReport returns the stored report document as written.
func (s *Store) ReadReport(id string) ([]byte, error) {
	return s.readReportFile(id, ".report.json")
}

func (s *Store) ReadHAR(id string) ([]byte, error) {
	return s.readReportFile(id, ".har")
}

func (s *Store) readReportFile(id, suffix string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.reportPath(id, suffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cdpcontrol.NewError(cdpcontrol.CodeRecordingNotFound, "report not found: "+id, nil)
		}
		return nil, fmt.Errorf("storage: read report: %w", err)
	}
	return data, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
