// Package report assembles a bug report: the recording, the diagnostics of
// the recorded region and the page's console and network activity.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/regioncap/internal/diagnostics"
	"github.com/dgnsrekt/regioncap/internal/region"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"github.com/dgnsrekt/regioncap/internal/telemetry"
)

type Request struct {
	PageID      string         `json:"page_id"`
	RecordingID string         `json:"recording_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Region      *region.Region `json:"region,omitempty"`
	// DiagnosticsLimit caps the element list; zero means the default.
	DiagnosticsLimit int `json:"diagnostics_limit,omitempty"`
}

// Bundle is the report document handed to downstream issue tooling.
type Bundle struct {
	ID             string                   `json:"id"`
	CreatedAt      time.Time                `json:"created_at"`
	PageID         string                   `json:"page_id"`
	Title          string                   `json:"title"`
	Description    string                   `json:"description,omitempty"`
	Recording      *storage.RecordingMeta   `json:"recording,omitempty"`
	Diagnostics    *diagnostics.Report      `json:"diagnostics,omitempty"`
	Console        []telemetry.ConsoleEntry `json:"console"`
	Network        []telemetry.Request      `json:"network"`
	FailedRequests []telemetry.Request      `json:"failed_requests"`
	Warnings       []string                 `json:"warnings,omitempty"`
}

type RecordingLookup interface {
	GetRecording(id string) (storage.RecordingMeta, error)
}

// Sources are the collaborators a report draws from. Scanner and Telemetry
// may be nil.
type Sources struct {
	Recordings RecordingLookup
	Scanner    diagnostics.Scanner
	Telemetry  *telemetry.Monitor
}

// Assemble gathers the parts, scanning the page and draining telemetry
// concurrently. A missing recording fails the report; diagnostics that cannot
// be read only add a warning. Without an explicit region the recording's
// region is scanned.
func Assemble(ctx context.Context, req Request, src Sources) (*Bundle, error) {
	b := &Bundle{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		PageID:      req.PageID,
		Title:       req.Title,
		Description: req.Description,
	}

	reg := req.Region
	if req.RecordingID != "" && src.Recordings != nil {
		meta, err := src.Recordings.GetRecording(req.RecordingID)
		if err != nil {
			return nil, err
		}
		b.Recording = &meta
		if reg == nil {
			r := meta.Region
			reg = &r
		}
	}

	var diagWarning string
	g, gctx := errgroup.WithContext(ctx)
	if reg != nil && src.Scanner != nil {
		g.Go(func() error {
			rep, err := diagnostics.Collect(gctx, src.Scanner, *reg, req.DiagnosticsLimit)
			if err != nil {
				slog.Warn("report diagnostics failed", "page_id", req.PageID, "error", err)
				diagWarning = "diagnostics unavailable: " + err.Error()
				return nil
			}
			b.Diagnostics = &rep
			return nil
		})
	}
	if src.Telemetry != nil {
		g.Go(func() error {
			snap := src.Telemetry.Snapshot()
			b.Console, b.Network, b.FailedRequests = snap.Console, snap.Requests, snap.FailedRequests
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if diagWarning != "" {
		b.Warnings = append(b.Warnings, diagWarning)
	}
	if src.Telemetry == nil {
		b.Warnings = append(b.Warnings, "telemetry not attached")
	}
	if b.Console == nil {
		b.Console = []telemetry.ConsoleEntry{}
	}
	if b.Network == nil {
		b.Network = []telemetry.Request{}
	}
	if b.FailedRequests == nil {
		b.FailedRequests = []telemetry.Request{}
	}
	return b, nil
}
