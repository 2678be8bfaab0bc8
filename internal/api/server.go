package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/controller"
	"github.com/dgnsrekt/regioncap/internal/diagnostics"
	"github.com/dgnsrekt/regioncap/internal/events"
	"github.com/dgnsrekt/regioncap/internal/region"
	"github.com/dgnsrekt/regioncap/internal/report"
	"github.com/dgnsrekt/regioncap/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListPages(ctx context.Context) ([]cdpcontrol.PageInfo, error)
	PickArea(ctx context.Context, pageID string) (region.Region, error)
	PickElement(ctx context.Context, pageID string) (region.Region, error)
	Diagnostics(ctx context.Context, pageID string, reg *region.Region, limit int) (diagnostics.Report, error)
	StartRecording(ctx context.Context, req controller.StartRequest) (controller.Recording, error)
	StopRecording(ctx context.Context, id string) (storage.RecordingMeta, error)
	GetRecording(ctx context.Context, id string) (controller.Recording, error)
	ListRecordings(ctx context.Context) ([]controller.Recording, error)
	ReadVideo(ctx context.Context, id string) ([]byte, string, error)
	DeleteRecording(ctx context.Context, id string) error
	CreateReport(ctx context.Context, req report.Request) (*report.Bundle, error)
	GetReport(ctx context.Context, id string) ([]byte, error)
	GetReportHAR(ctx context.Context, id string) ([]byte, error)
}

// regionBody is a region in viewport CSS pixels as sent by clients.
type regionBody struct {
	Left   float64 `json:"left" doc:"Left edge in viewport CSS pixels"`
	Top    float64 `json:"top" doc:"Top edge in viewport CSS pixels"`
	Width  float64 `json:"width" minimum:"1" doc:"Width in CSS pixels"`
	Height float64 `json:"height" minimum:"1" doc:"Height in CSS pixels"`
	Label  string  `json:"label,omitempty"`
}

func (b *regionBody) region() *region.Region {
	if b == nil {
		return nil
	}
	return &region.Region{Left: b.Left, Top: b.Top, Width: b.Width, Height: b.Height, Source: region.SourceExplicit, Label: b.Label}
}

type pageIDInput struct {
	PageID string `path:"page_id"`
}

type recordingIDInput struct {
	ID string `path:"id" doc:"Recording id (uuid)"`
}

// NewServer builds the API router. A nil broker disables /api/v1/events.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("regioncap API", controller.Version)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/api/v1/events", events.SSEHandler(broker))
	}

	registerHealthHandlers(api)
	registerPageHandlers(api, svc)
	registerRecordingHandlers(api, svc)
	registerReportHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Version = controller.Version
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation, cdpcontrol.CodeNoRegion:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodePageNotFound, cdpcontrol.CodeRecordingNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeInvalidState:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeRateLimited:
			return huma.Error429TooManyRequests(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeEvalFailure, cdpcontrol.CodeNoEncoder, cdpcontrol.CodeRasterUnavailable:
			return huma.Error502BadGateway(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
