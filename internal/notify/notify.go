// Package notify posts plain-text notices to an ntfy-style endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RecordingReady is the notice sent when a recording has been saved.
type RecordingReady struct {
	RecordingID string
	PageID      string
	MimeType    string
	Size        int
	Duration    time.Duration
	Reason      string
}

// Message renders the notice body.
func (r RecordingReady) Message() string {
	return fmt.Sprintf("recording %s ready: page=%s type=%s size=%dB duration=%s stop=%s",
		r.RecordingID, r.PageID, r.MimeType, r.Size, r.Duration.Round(time.Millisecond), r.Reason)
}

// SendRecordingReady posts r to endpoint. An empty endpoint is a no-op.
func SendRecordingReady(ctx context.Context, client *http.Client, endpoint string, r RecordingReady) error {
	if endpoint == "" {
		return nil
	}
	return Send(ctx, client, endpoint, r.Message())
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("notify: endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "regioncap")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
