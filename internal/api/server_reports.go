package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/regioncap/internal/report"
)

func registerReportHandlers(api huma.API, svc Service) {
	type createBody struct {
		PageID           string      `json:"page_id" minLength:"1"`
		RecordingID      string      `json:"recording_id,omitempty" doc:"Attach a saved recording; its region is scanned when region is omitted"`
		Title            string      `json:"title" minLength:"1" maxLength:"200"`
		Description      string      `json:"description,omitempty"`
		Region           *regionBody `json:"region,omitempty"`
		DiagnosticsLimit int         `json:"diagnostics_limit,omitempty" minimum:"0"`
	}
	type createInput struct {
		Body createBody
	}
	type bundleOutput struct {
		Body *report.Bundle
	}
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/api/v1/reports",
		Summary:       "Bundle a recording with diagnostics, console and network activity",
		Tags:          []string{"Reports"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *createInput) (*bundleOutput, error) {
		b := input.Body
		bundle, err := svc.CreateReport(ctx, report.Request{
			PageID:           b.PageID,
			RecordingID:      b.RecordingID,
			Title:            b.Title,
			Description:      b.Description,
			Region:           b.Region.region(),
			DiagnosticsLimit: b.DiagnosticsLimit,
		})
		if err != nil {
			return nil, mapErr(err)
		}
		return &bundleOutput{Body: bundle}, nil
	})

	type reportIDInput struct {
		ID string `path:"id" doc:"Report id (uuid)"`
	}
	type rawOutput struct {
		ContentType string `header:"Content-Type"`
		Body        json.RawMessage
	}
	huma.Register(api, huma.Operation{OperationID: "get-report", Method: http.MethodGet, Path: "/api/v1/reports/{id}", Summary: "Get a stored report", Tags: []string{"Reports"}},
		func(ctx context.Context, input *reportIDInput) (*rawOutput, error) {
			data, err := svc.GetReport(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &rawOutput{ContentType: "application/json", Body: data}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-report-har", Method: http.MethodGet, Path: "/api/v1/reports/{id}/har", Summary: "Download the report's network log as HAR", Tags: []string{"Reports"}},
		func(ctx context.Context, input *reportIDInput) (*rawOutput, error) {
			data, err := svc.GetReportHAR(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &rawOutput{ContentType: "application/json", Body: data}, nil
		})
}
