package cdpcontrol

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type fakeTarget struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type fakeCommand struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
}

// fakeBrowser speaks just enough of the DevTools HTTP and websocket protocol
// to drive rawCDP: /json/version, /json/list and flattened commands.
type fakeBrowser struct {
	t       *testing.T
	srv     *httptest.Server
	targets []fakeTarget

	mu       sync.Mutex
	handlers map[string]func(cmd fakeCommand) (any, string)
	calls    []fakeCommand
	conn     net.Conn
}

func newFakeBrowser(t *testing.T, targets ...fakeTarget) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		t:        t,
		targets:  targets,
		handlers: make(map[string]func(cmd fakeCommand) (any, string)),
	}
	fb.handle("Target.attachToTarget", func(cmd fakeCommand) (any, string) {
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(cmd.Params, &p)
		return map[string]any{"sessionId": "session-" + p.TargetID}, ""
	})
	fb.handle("Target.detachFromTarget", func(fakeCommand) (any, string) { return map[string]any{}, "" })
	fb.handle("Runtime.enable", func(fakeCommand) (any, string) { return map[string]any{}, "" })

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/devtools/browser/fake"
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		go fb.serve(conn)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		fb.mu.Lock()
		if fb.conn != nil {
			_ = fb.conn.Close()
		}
		fb.mu.Unlock()
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBrowser) URL() string { return fb.srv.URL }

func (fb *fakeBrowser) handle(method string, fn func(cmd fakeCommand) (any, string)) {
	fb.mu.Lock()
	fb.handlers[method] = fn
	fb.mu.Unlock()
}

// handleEval answers Runtime.evaluate with an envelope built by fn.
func (fb *fakeBrowser) handleEval(fn func(expression string) string) {
	fb.handle("Runtime.evaluate", func(cmd fakeCommand) (any, string) {
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(cmd.Params, &p)
		return map[string]any{"result": map[string]any{"type": "string", "value": fn(p.Expression)}}, ""
	})
}

func (fb *fakeBrowser) methods() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]string, 0, len(fb.calls))
	for _, c := range fb.calls {
		out = append(out, c.Method)
	}
	return out
}

func (fb *fakeBrowser) lastParams(method string) json.RawMessage {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := len(fb.calls) - 1; i >= 0; i-- {
		if fb.calls[i].Method == method {
			return fb.calls[i].Params
		}
	}
	return nil
}

// emit pushes an event to the connected client.
func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	fb.t.Helper()
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	if conn == nil {
		fb.t.Fatalf("emit(%s) with no client connected", method)
	}
	payload, _ := json.Marshal(map[string]any{"method": method, "sessionId": sessionID, "params": params})
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := wsutil.WriteServerText(conn, payload); err != nil {
		fb.t.Fatalf("emit(%s) = %v", method, err)
	}
}

func (fb *fakeBrowser) serve(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var cmd fakeCommand
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		fb.mu.Lock()
		fb.calls = append(fb.calls, cmd)
		h := fb.handlers[cmd.Method]
		fb.mu.Unlock()

		resp := map[string]any{"id": cmd.ID}
		if cmd.SessionID != "" {
			resp["sessionId"] = cmd.SessionID
		}
		if h == nil {
			resp["error"] = map[string]any{"message": fmt.Sprintf("'%s' wasn't found", cmd.Method)}
		} else if result, errMsg := h(cmd); errMsg != "" {
			resp["error"] = map[string]any{"message": errMsg}
		} else {
			resp["result"] = result
		}
		payload, _ := json.Marshal(resp)
		fb.mu.Lock()
		err = wsutil.WriteServerText(conn, payload)
		fb.mu.Unlock()
		if err != nil {
			return
		}
	}
}
