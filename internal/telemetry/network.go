package telemetry

import (
	"encoding/base64"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
)

const (
	DefaultNetworkRequests = 100
	DefaultMaxBodyBytes    = 256 * 1024

	staleAfter = 5 * time.Minute
)

// Request is one completed or failed network request.
type Request struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          int               `json:"status,omitempty"`
	StatusText      string            `json:"status_text,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	MimeType        string            `json:"mime_type,omitempty"`
	// The response body is kept for failed responses only.
	ResponseBody       string  `json:"response_body,omitempty"`
	ResponseBodyBase64 string  `json:"response_body_base64,omitempty"`
	Truncated          bool    `json:"truncated,omitempty"`
	OriginalSize       int     `json:"original_size,omitempty"`
	SHA256             string  `json:"sha256,omitempty"`
	DurationMS         float64 `json:"duration_ms"`
	Error              string  `json:"error,omitempty"`
}

// Failed is true for an HTTP error status or a transport failure.
func (r Request) Failed() bool { return r.Status >= 400 || r.Error != "" }

type pendingRequest struct {
	req     *Request
	started time.Time
}

// Network correlates CDP network events into Requests.
type Network struct {
	maxBodyBytes int
	now          func() time.Time

	pending   map[string]*pendingRequest
	pendingMu sync.Mutex

	done     *ring[Request]
	inflight sync.WaitGroup
}

func NewNetwork(maxRequests, maxBodyBytes int) *Network {
	if maxRequests <= 0 {
		maxRequests = DefaultNetworkRequests
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Network{
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
		pending:      make(map[string]*pendingRequest),
		done:         newRing[Request](maxRequests),
	}
}

func (n *Network) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	var postData []byte
	if ev.Request.HasPostData {
		for _, entry := range ev.Request.PostDataEntries {
			if entry.Bytes == "" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				postData = append(postData, entry.Bytes...)
			} else {
				postData = append(postData, decoded...)
			}
		}
	}
	body, _, _, _ := truncateBytes(postData, n.maxBodyBytes)

	now := n.now()
	n.pendingMu.Lock()
	n.cleanupStaleLocked(now)
	n.pending[string(ev.RequestID)] = &pendingRequest{
		req: &Request{
			ID:        string(ev.RequestID),
			URL:       ev.Request.URL,
			Method:    ev.Request.Method,
			Headers:   headerMapToStringMap(ev.Request.Headers),
			Body:      string(body),
			Timestamp: now.UTC(),
		},
		started: now,
	}
	n.pendingMu.Unlock()
}

func (n *Network) OnResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	p, ok := n.pending[string(ev.RequestID)]
	if !ok {
		return
	}
	p.req.Status = int(ev.Response.Status)
	p.req.StatusText = ev.Response.StatusText
	p.req.ResponseHeaders = headerMapToStringMap(ev.Response.Headers)
	p.req.MimeType = ev.Response.MimeType
}

// OnLoadingFinished completes a request. getBody is only called for error
// responses, on its own goroutine since it issues a CDP command.
func (n *Network) OnLoadingFinished(ev *network.EventLoadingFinished, getBody func() ([]byte, error)) {
	p, ok := n.take(string(ev.RequestID))
	if !ok {
		return
	}
	req := p.req
	req.DurationMS = float64(n.now().Sub(p.started).Microseconds()) / 1000
	if req.Status < 400 || getBody == nil {
		n.done.push(*req)
		return
	}

	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		body, err := getBody()
		if err != nil {
			slog.Debug("telemetry response body unavailable", "request_id", req.ID, "error", err)
		} else if len(body) > 0 {
			kept, truncated, originalSize, sum := truncateBytes(body, n.maxBodyBytes)
			if utf8.Valid(kept) {
				req.ResponseBody = string(kept)
			} else {
				req.ResponseBodyBase64 = base64.StdEncoding.EncodeToString(kept)
			}
			if truncated {
				req.Truncated = true
				req.OriginalSize = originalSize
				req.SHA256 = sum
			}
		}
		n.done.push(*req)
	}()
}

func (n *Network) OnLoadingFailed(ev *network.EventLoadingFailed) {
	p, ok := n.take(string(ev.RequestID))
	if !ok {
		return
	}
	p.req.DurationMS = float64(n.now().Sub(p.started).Microseconds()) / 1000
	p.req.Error = ev.ErrorText
	if p.req.Error == "" && ev.Canceled {
		p.req.Error = "canceled"
	}
	n.done.push(*p.req)
}

func (n *Network) take(id string) (*pendingRequest, bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	p, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
	}
	return p, ok
}

func (n *Network) cleanupStaleLocked(now time.Time) {
	threshold := now.Add(-staleAfter)
	for id, p := range n.pending {
		if p.started.Before(threshold) {
			delete(n.pending, id)
		}
	}
}

// Wait blocks until pending response-body reads have landed.
func (n *Network) Wait() { n.inflight.Wait() }

// Requests returns the retained requests in completion order.
func (n *Network) Requests() []Request { return n.done.snapshot() }

func (n *Network) FailedRequests() []Request {
	var out []Request
	for _, r := range n.done.snapshot() {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

func (n *Network) Clear() {
	n.pendingMu.Lock()
	n.pending = make(map[string]*pendingRequest)
	n.pendingMu.Unlock()
	n.done.reset()
}

func headerMapToStringMap(headers map[string]any) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
