package telemetry

import (
	"net/url"
	"sort"
	"time"

	"github.com/chromedp/cdproto/har"
)

const harVersion = "1.2"

// HAR exports reqs as an HTTP Archive log.
func HAR(creator, version string, reqs []Request) *har.HAR {
	entries := make([]*har.Entry, 0, len(reqs))
	for _, r := range reqs {
		entries = append(entries, harEntry(r))
	}
	return &har.HAR{Log: &har.Log{
		Version: harVersion,
		Creator: &har.Creator{Name: creator, Version: version},
		Pages:   []*har.Page{},
		Entries: entries,
	}}
}

func harEntry(r Request) *har.Entry {
	req := &har.Request{
		Method:      r.Method,
		URL:         r.URL,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []*har.Cookie{},
		Headers:     harHeaders(r.Headers),
		QueryString: harQuery(r.URL),
		HeadersSize: -1,
		BodySize:    int64(len(r.Body)),
	}
	if r.Body != "" {
		req.PostData = &har.PostData{MimeType: r.Headers["Content-Type"], Text: r.Body}
	}

	statusText := r.StatusText
	if r.Status == 0 && r.Error != "" {
		statusText = r.Error
	}
	content := &har.Content{Size: int64(r.OriginalSize), MimeType: r.MimeType, Text: r.ResponseBody}
	if r.ResponseBodyBase64 != "" {
		content.Text = r.ResponseBodyBase64
		content.Encoding = "base64"
	}
	if content.Size == 0 {
		content.Size = int64(len(r.ResponseBody))
	}
	resp := &har.Response{
		Status:      int64(r.Status),
		StatusText:  statusText,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []*har.Cookie{},
		Headers:     harHeaders(r.ResponseHeaders),
		Content:     content,
		HeadersSize: -1,
		BodySize:    -1,
	}

	return &har.Entry{
		StartedDateTime: r.Timestamp.Format(time.RFC3339Nano),
		Time:            r.DurationMS,
		Request:         req,
		Response:        resp,
		Cache:           &har.Cache{},
		Timings:         &har.Timings{Send: 0, Wait: r.DurationMS, Receive: 0},
	}
}

func harHeaders(h map[string]string) []*har.NameValuePair {
	out := make([]*har.NameValuePair, 0, len(h))
	for k, v := range h {
		out = append(out, &har.NameValuePair{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func harQuery(raw string) []*har.NameValuePair {
	out := []*har.NameValuePair{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, &har.NameValuePair{Name: k, Value: v})
		}
	}
	return out
}
