// Package eventtap turns the page's interaction events into the shared
// pointer state and the caption track the overlay renderer draws.
package eventtap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
)

// Binding is the page function the injected listeners call.
const Binding = "__regioncapEmit"

const (
	maxLabelRunes  = 60
	truncatedRunes = 57
	// CaptionSeparator joins captions that share the window.
	CaptionSeparator = " • "
)

// Pointer is a copy of the pointer state at one instant.
type Pointer struct {
	X, Y  float64
	Known bool
	// LastClick is zero until the first click.
	LastClick time.Time
}

// PointerState is the cursor position and last click time for one capture
// session. The tap writes it and the overlay reads it. Only one click is
// tracked: a second click replaces the first.
type PointerState struct {
	mu sync.Mutex
	p  Pointer
}

func NewPointerState() *PointerState { return &PointerState{} }

func (s *PointerState) Move(x, y float64) {
	s.mu.Lock()
	s.p.X, s.p.Y, s.p.Known = x, y, true
	s.mu.Unlock()
}

func (s *PointerState) Click(x, y float64, at time.Time) {
	s.mu.Lock()
	s.p.X, s.p.Y, s.p.Known = x, y, true
	s.p.LastClick = at
	s.mu.Unlock()
}

func (s *PointerState) Snapshot() Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// Caption is one caption track entry. At is seconds since session start.
type Caption struct {
	At   float64 `json:"t"`
	Text string  `json:"text"`
}

// Track is an append-only caption list. Entries are never evicted; sessions
// are bounded in time.
type Track struct {
	mu      sync.Mutex
	start   time.Time
	entries []Caption
}

func NewTrack(start time.Time) *Track { return &Track{start: start} }

func (t *Track) Start() time.Time { return t.start }

// PushAt appends text stamped relative to the session start.
func (t *Track) PushAt(at time.Time, text string) {
	t.mu.Lock()
	t.entries = append(t.entries, Caption{At: at.Sub(t.start).Seconds(), Text: text})
	t.mu.Unlock()
}

// Window returns the entries stamped within the trailing window ending at now.
func (t *Track) Window(now time.Time, window time.Duration) []Caption {
	cutoff := now.Sub(t.start).Seconds() - window.Seconds()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Caption
	for _, c := range t.entries {
		if c.At >= cutoff {
			out = append(out, c)
		}
	}
	return out
}

func (t *Track) Entries() []Caption {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Caption(nil), t.entries...)
}

// Join renders captions as a single line of text.
func Join(captions []Caption) string {
	parts := make([]string, 0, len(captions))
	for _, c := range captions {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, CaptionSeparator)
}

// Tap routes page events into a PointerState and a Track.
type Tap struct {
	pointer *PointerState
	track   *Track
	now     func() time.Time
}

// New builds a tap. now should be the clock the track was started with;
// nil means time.Now.
func New(pointer *PointerState, track *Track, now func() time.Time) *Tap {
	if now == nil {
		now = time.Now
	}
	return &Tap{pointer: pointer, track: track, now: now}
}

// Handle applies one event. Clicks on recorder chrome move the ripple but
// add no caption.
func (t *Tap) Handle(ev cdpcontrol.TapEvent) {
	now := t.now()
	switch ev.Type {
	case "move":
		t.pointer.Move(ev.X, ev.Y)
	case "click":
		t.pointer.Click(ev.X, ev.Y, now)
		if ev.Ignored {
			return
		}
		t.track.PushAt(now, ClickCaption(ev.Target))
	case "key":
		t.track.PushAt(now, "Key "+ev.Key)
	case "selection":
		t.track.PushAt(now, "Selecting text")
	default:
		slog.Debug("eventtap unknown event", "type", ev.Type)
	}
}

// Installer exposes a page binding and wires the listeners to it.
type Installer interface {
	InstallTap(ctx context.Context, binding string, fn func(cdpcontrol.TapEvent)) (func(), error)
}

// Install attaches the listeners for the session's lifetime. The returned
// func detaches them and is safe to call more than once.
func (t *Tap) Install(ctx context.Context, page Installer) (func(), error) {
	remove, err := page.InstallTap(ctx, Binding, t.Handle)
	if err != nil {
		return nil, fmt.Errorf("eventtap: install: %w", err)
	}
	var once sync.Once
	return func() { once.Do(remove) }, nil
}

// ClickCaption is the caption for a click whose nearest clickable ancestor is
// target, or plain "Click" when there is none.
func ClickCaption(target *cdpcontrol.TapTarget) string {
	if target == nil {
		return "Click"
	}
	kind, label := Describe(*target)
	return fmt.Sprintf("Click: %s: \"%s\"", kind, label)
}

// Describe returns the control kind and a short human label for target.
func Describe(target cdpcontrol.TapTarget) (kind, label string) {
	tag := strings.ToLower(target.Tag)
	switch {
	case target.Role == "button" || tag == "button":
		kind = "button"
	case tag == "a":
		kind = "link"
	default:
		kind = tag
	}
	label = accessibleName(target)
	for _, fallback := range []string{target.ID, target.Name, target.Title} {
		if label != "" {
			break
		}
		label = fallback
	}
	if label == "" {
		label = "element"
	}
	return kind, Truncate(label)
}

func accessibleName(t cdpcontrol.TapTarget) string {
	if s := strings.TrimSpace(t.AriaLabel); s != "" {
		return s
	}
	if s := strings.TrimSpace(t.LabelledByText); s != "" {
		return s
	}
	if s := strings.Join(strings.Fields(t.Text), " "); s != "" {
		return s
	}
	if strings.ToLower(t.Tag) == "input" {
		return t.Value
	}
	return ""
}

// Truncate cuts labels longer than 60 characters to 57 plus an ellipsis.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelRunes {
		return s
	}
	return string(r[:truncatedRunes]) + "…"
}
