package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/regioncap/internal/controller"
	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/storage"
)

func registerRecordingHandlers(api huma.API, svc Service) {
	type startBody struct {
		PageID     string      `json:"page_id" minLength:"1" doc:"Page target id from /api/v1/pages"`
		Region     *regionBody `json:"region,omitempty" doc:"Region to record; required unless full_screen is set"`
		FullScreen bool        `json:"full_screen,omitempty" doc:"Record the whole viewport"`
		FPS        int         `json:"fps,omitempty" minimum:"0" maximum:"60" doc:"Frames per second (default 8)"`
		MaxSeconds float64     `json:"max_seconds,omitempty" minimum:"0" doc:"Duration bound in seconds (default 30)"`
		MaxBytes   int         `json:"max_bytes,omitempty" minimum:"0" doc:"Byte budget (default 9.5 MiB)"`
		Selection  bool        `json:"selection,omitempty" doc:"Force the text selection and caret overlay on (it is on unless the server config turns it off)"`
	}
	type startInput struct {
		Body startBody
	}
	type recordingOutput struct {
		Body controller.Recording
	}
	huma.Register(api, huma.Operation{
		OperationID:   "start-recording",
		Method:        http.MethodPost,
		Path:          "/api/v1/recordings",
		Summary:       "Start recording a region of a page",
		Description:   "The recording is saved when it is stopped or when the duration or byte bound is reached.",
		Tags:          []string{"Recordings"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *startInput) (*recordingOutput, error) {
		b := input.Body
		rec, err := svc.StartRecording(ctx, controller.StartRequest{
			PageID:     b.PageID,
			Region:     b.Region.region(),
			FullScreen: b.FullScreen,
			Options:    recorder.Options{FPS: b.FPS, MaxSeconds: b.MaxSeconds, MaxBytes: b.MaxBytes, Selection: b.Selection},
		})
		if err != nil {
			return nil, mapErr(err)
		}
		return &recordingOutput{Body: rec}, nil
	})

	type metaOutput struct {
		Body storage.RecordingMeta
	}
	huma.Register(api, huma.Operation{OperationID: "stop-recording", Method: http.MethodPost, Path: "/api/v1/recordings/{id}/stop", Summary: "Stop a recording and save it", Tags: []string{"Recordings"}},
		func(ctx context.Context, input *recordingIDInput) (*metaOutput, error) {
			meta, err := svc.StopRecording(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &metaOutput{Body: meta}, nil
		})

	type listOutput struct {
		Body []controller.Recording
	}
	huma.Register(api, huma.Operation{OperationID: "list-recordings", Method: http.MethodGet, Path: "/api/v1/recordings", Summary: "List live and saved recordings", Tags: []string{"Recordings"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			recs, err := svc.ListRecordings(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body = recs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-recording", Method: http.MethodGet, Path: "/api/v1/recordings/{id}", Summary: "Get a recording's status or saved metadata", Tags: []string{"Recordings"}},
		func(ctx context.Context, input *recordingIDInput) (*recordingOutput, error) {
			rec, err := svc.GetRecording(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &recordingOutput{Body: rec}, nil
		})

	type videoOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-recording-video",
		Method:      http.MethodGet,
		Path:        "/api/v1/recordings/{id}/video",
		Summary:     "Download the recorded video",
		Tags:        []string{"Recordings"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Recorded video",
				Content: map[string]*huma.MediaType{
					"video/mp4":           {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"video/webm":          {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"video/x-motion-jpeg": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
	}, func(ctx context.Context, input *recordingIDInput) (*videoOutput, error) {
		data, mime, err := svc.ReadVideo(ctx, input.ID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &videoOutput{ContentType: mime, Body: data}, nil
	})

	huma.Register(api, huma.Operation{OperationID: "delete-recording", Method: http.MethodDelete, Path: "/api/v1/recordings/{id}", Summary: "Delete a saved recording", Tags: []string{"Recordings"}},
		func(ctx context.Context, input *recordingIDInput) (*struct{}, error) {
			if err := svc.DeleteRecording(ctx, input.ID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})
}
