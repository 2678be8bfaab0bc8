package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/diagnostics"
	"github.com/dgnsrekt/regioncap/internal/region"
)

func registerPageHandlers(api huma.API, svc Service) {
	type pagesOutput struct {
		Body []cdpcontrol.PageInfo
	}
	huma.Register(api, huma.Operation{OperationID: "list-pages", Method: http.MethodGet, Path: "/api/v1/pages", Summary: "List recordable page targets", Tags: []string{"Pages"}},
		func(ctx context.Context, input *struct{}) (*pagesOutput, error) {
			pages, err := svc.ListPages(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pagesOutput{}
			out.Body = pages
			return out, nil
		})

	type regionOutput struct {
		Body region.Region
	}
	huma.Register(api, huma.Operation{
		OperationID: "pick-area",
		Method:      http.MethodPost,
		Path:        "/api/v1/pages/{page_id}/pick-area",
		Summary:     "Let the user drag a region on the page",
		Description: "Shows a crosshair layer on the page and waits for a drag. Escape on the page or the pick timeout cancels.",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *pageIDInput) (*regionOutput, error) {
		reg, err := svc.PickArea(ctx, input.PageID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &regionOutput{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pick-element",
		Method:      http.MethodPost,
		Path:        "/api/v1/pages/{page_id}/pick-element",
		Summary:     "Let the user click an element and use its box as the region",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *pageIDInput) (*regionOutput, error) {
		reg, err := svc.PickElement(ctx, input.PageID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &regionOutput{Body: reg}, nil
	})

	type diagnosticsInput struct {
		PageID string `path:"page_id"`
		Body   *struct {
			Region *regionBody `json:"region,omitempty" doc:"Region to scan; omit for the whole viewport"`
			Limit  int         `json:"limit,omitempty" minimum:"0" doc:"Maximum elements (default 30)"`
		} `required:"false"`
	}
	type diagnosticsOutput struct {
		Body diagnostics.Report
	}
	huma.Register(api, huma.Operation{
		OperationID: "page-diagnostics",
		Method:      http.MethodPost,
		Path:        "/api/v1/pages/{page_id}/diagnostics",
		Summary:     "Describe the visible elements inside a region",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *diagnosticsInput) (*diagnosticsOutput, error) {
		var reg *region.Region
		limit := 0
		if input.Body != nil {
			reg = input.Body.Region.region()
			limit = input.Body.Limit
		}
		rep, err := svc.Diagnostics(ctx, input.PageID, reg, limit)
		if err != nil {
			return nil, mapErr(err)
		}
		return &diagnosticsOutput{Body: rep}, nil
	})
}
