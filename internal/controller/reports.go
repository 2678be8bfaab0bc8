package controller

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/regioncap/internal/report"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"github.com/dgnsrekt/regioncap/internal/telemetry"
)

// CreateReport bundles a recording with diagnostics and the page's console
// and network activity, and stores it with a HAR export.
func (s *Service) CreateReport(ctx context.Context, req report.Request) (*report.Bundle, error) {
	if err := s.requireNonEmpty(req.Title, "title"); err != nil {
		return nil, err
	}
	page, err := s.openPage(ctx, req.PageID)
	if err != nil {
		return nil, err
	}
	info := page.Info()
	req.PageID = info.PageID
	req.Title = strings.TrimSpace(req.Title)

	bundle, err := report.Assemble(ctx, req, report.Sources{
		Recordings: s.store,
		Scanner:    page,
		Telemetry:  s.monitorFor(ctx, info),
	})
	if err != nil {
		return nil, err
	}

	harLog := telemetry.HAR("regioncap", Version, bundle.Network)
	meta := storage.ReportMeta{
		ID:          bundle.ID,
		RecordingID: req.RecordingID,
		PageID:      bundle.PageID,
		HasHAR:      true,
		CreatedAt:   bundle.CreatedAt,
	}
	if err := s.store.SaveReport(meta, bundle, harLog); err != nil {
		return nil, err
	}
	s.record(storage.Event{Kind: "report_created", RecordingID: req.RecordingID, PageID: bundle.PageID, Detail: map[string]any{
		"report_id": bundle.ID, "warnings": len(bundle.Warnings),
	}})
	slog.Info("controller report created", "report_id", bundle.ID, "page_id", bundle.PageID, "warnings", len(bundle.Warnings))
	return bundle, nil
}

// GetReport returns the stored report document.
func (s *Service) GetReport(_ context.Context, id string) ([]byte, error) {
	return s.store.ReadReport(id)
}

// GetReportHAR returns the stored HAR export of a report.
func (s *Service) GetReportHAR(_ context.Context, id string) ([]byte, error) {
	return s.store.ReadHAR(id)
}
