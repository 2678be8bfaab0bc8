package telemetry

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

const DefaultConsoleEntries = 2000

// Console levels.
const (
	LevelLog   = "log"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelDebug = "debug"
)

type ConsoleEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Args      []string  `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// Console records console calls and uncaught exceptions.
type Console struct {
	entries *ring[ConsoleEntry]
	now     func() time.Time
}

func NewConsole(maxEntries int) *Console {
	if maxEntries <= 0 {
		maxEntries = DefaultConsoleEntries
	}
	return &Console{entries: newRing[ConsoleEntry](maxEntries), now: time.Now}
}

func (c *Console) OnConsoleAPICalled(ev *runtime.EventConsoleAPICalled) {
	level, ok := consoleLevel(ev.Type)
	if !ok {
		return
	}
	args := make([]string, 0, len(ev.Args))
	for _, a := range ev.Args {
		args = append(args, remoteString(a))
	}
	c.push(level, args)
}

// OnExceptionThrown records an uncaught exception as an error entry.
func (c *Console) OnExceptionThrown(ev *runtime.EventExceptionThrown) {
	d := ev.ExceptionDetails
	if d == nil {
		return
	}
	msg := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		msg = d.Exception.Description
	}
	c.push(LevelError, []string{msg})
}

func (c *Console) push(level string, args []string) {
	c.entries.push(ConsoleEntry{
		Level:     level,
		Message:   strings.Join(args, " "),
		Args:      args,
		Timestamp: c.now().UTC(),
	})
}

func (c *Console) Entries() []ConsoleEntry { return c.entries.snapshot() }

func (c *Console) Clear() { c.entries.reset() }

func consoleLevel(t runtime.APIType) (string, bool) {
	switch t {
	case runtime.APITypeLog:
		return LevelLog, true
	case runtime.APITypeInfo:
		return LevelInfo, true
	case runtime.APITypeWarning:
		return LevelWarn, true
	case runtime.APITypeError, runtime.APITypeAssert:
		return LevelError, true
	case runtime.APITypeDebug:
		return LevelDebug, true
	}
	return "", false
}

// remoteString renders an argument the way the page would print it: strings
// bare, primitives and serialisable values as JSON, objects by description.
func remoteString(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		if o.Type == runtime.TypeString {
			var s string
			if err := json.Unmarshal([]byte(o.Value), &s); err == nil {
				return s
			}
		}
		return string(o.Value)
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Type)
}
