package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

type tabSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client tracks page targets of one Chromium instance and evaluates page
// scripts on them over a shared raw CDP connection.
type Client struct {
	cdpURL      string
	pageFilter  string
	evalTimeout time.Duration

	mu   sync.Mutex
	cdp  *rawCDP
	tabs map[target.ID]*tabSession

	pageLocksMu sync.Mutex
	pageLocks   map[string]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL, pageFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		pageFilter:  strings.ToLower(strings.TrimSpace(pageFilter)),
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		pageLocks:   make(map[string]*sync.Mutex),
	}
}

// CDPURL returns the HTTP base of the DevTools endpoint.
func (c *Client) CDPURL() string { return c.cdpURL }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "pages", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for _, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "session_id", session.sessionID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
}

func (c *Client) ListPages(ctx context.Context) ([]PageInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list pages failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	pages := make([]PageInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			pages = append(pages, s.info)
		}
	}
	c.mu.Unlock()

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].PageID < pages[j].PageID
	})
	slog.Debug("cdpcontrol list pages", "count", len(pages))
	return pages, nil
}

// Page resolves a page handle by id. The handle stays valid across
// reconnects because every call re-resolves the underlying session.
func (c *Client) Page(ctx context.Context, pageID string) (*Page, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return nil, newError(CodeValidation, "page id is required", nil)
	}
	_, info, err := c.resolvePageSession(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return &Page{client: c, info: info}, nil
}

// BrowserVersion reports the connected browser's product and protocol version.
func (c *Client) BrowserVersion(ctx context.Context) (BrowserVersion, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return BrowserVersion{}, err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return BrowserVersion{}, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	v, err := cdp.browserVersion(ctx)
	if err != nil {
		return BrowserVersion{}, newError(CodeCDPUnavailable, "browser version failed", err)
	}
	return v, nil
}

// withPageSession runs fn with an attached session for pageID, retrying once
// after a reconnect or tab refresh when the failure looks transient.
func (c *Client) withPageSession(ctx context.Context, pageID string, fn func(cdp *rawCDP, session *tabSession, sessionID string) error) error {
	lock := c.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	err := c.runOnPage(ctx, pageID, fn)
	if err == nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol page call retry after transient failure", "page_id", pageID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "page_id", pageID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "page_id", pageID, "error", syncErr)
	}
	return c.runOnPage(ctx, pageID, fn)
}

func (c *Client) runOnPage(ctx context.Context, pageID string, fn func(cdp *rawCDP, session *tabSession, sessionID string) error) error {
	session, info, err := c.resolvePageSession(ctx, pageID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	sessionID, err := c.ensureSession(ctx, cdp, session, info.TargetID)
	if err != nil {
		return err
	}
	return fn(cdp, session, sessionID)
}

func (c *Client) evalOnPage(ctx context.Context, pageID, js string, timeout time.Duration, out any) error {
	if timeout <= 0 {
		timeout = c.evalTimeout
	}
	return c.withPageSession(ctx, pageID, func(cdp *rawCDP, session *tabSession, sessionID string) error {
		return c.evalOnSession(ctx, cdp, session, sessionID, js, timeout, out)
	})
}

func (c *Client) evalOnSession(ctx context.Context, cdp *rawCDP, session *tabSession, sessionID, js string, timeout time.Duration, out any) error {
	evalCtx, evalCancel := context.WithTimeout(ctx, timeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Debug("cdpcontrol eval failed", "page_id", session.info.PageID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	if err := cdp.enableRuntime(ctx, sid); err != nil {
		slog.Debug("cdpcontrol runtime enable failed", "target_id", targetID, "error", err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

func (c *Client) resolvePageSession(ctx context.Context, pageID string) (*tabSession, PageInfo, error) {
	session, info, found := c.lookupPageSession(pageID)
	if found {
		return session, info, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, PageInfo{}, err
	}

	session, info, found = c.lookupPageSession(pageID)
	if found {
		return session, info, nil
	}

	return nil, PageInfo{}, newError(CodePageNotFound, "page not found: "+pageID, nil)
}

func (c *Client) lookupPageSession(pageID string) (*tabSession, PageInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(pageID)]
	if session == nil {
		return nil, PageInfo{}, false
	}
	return session, session.info, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	return newError(CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[target.ID]PageInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		if c.pageFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.pageFilter) {
			continue
		}
		expected[t.TargetID] = PageInfo{
			PageID:   string(t.TargetID),
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}
	}

	for targetID := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		delete(c.tabs, targetID)
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}

	// Prune page locks for pages no longer present.
	c.pageLocksMu.Lock()
	for id := range c.pageLocks {
		if _, ok := c.tabs[target.ID(id)]; !ok {
			delete(c.pageLocks, id)
		}
	}
	c.pageLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) pageLock(pageID string) *sync.Mutex {
	c.pageLocksMu.Lock()
	defer c.pageLocksMu.Unlock()
	m, ok := c.pageLocks[pageID]
	if !ok {
		m = &sync.Mutex{}
		c.pageLocks[pageID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodePageNotFound:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
