// Package formstate captures the live values of a page's form controls and
// turns them into patches for the cloned DOM the rasterizer paints.
//
// Controls are keyed by their position in a pre-order walk of
// "input, textarea, select". The walk is repeated on the clone, so no marker
// attribute is ever written to the live document.
package formstate

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
)

// Kind is the element type of a form control.
type Kind string

const (
	KindInput    Kind = "input"
	KindTextarea Kind = "textarea"
	KindSelect   Kind = "select"
)

// Entry is the live state of one control.
type Entry struct {
	Key     int
	Kind    Kind
	Type    string
	Value   string
	Checked bool
	Values  []string
}

// Snapshot maps control keys to their live state for one rasterization pass.
type Snapshot struct {
	entries map[int]Entry
	order   []int
}

// Reader reads live control state from a page.
type Reader interface {
	ReadFormControls(ctx context.Context) ([]cdpcontrol.FormControl, error)
}

// Capture reads every control on the page. Keys are unique within the
// returned snapshot; a duplicate key from the page is an error.
func Capture(ctx context.Context, r Reader) (Snapshot, error) {
	controls, err := r.ReadFormControls(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("formstate: read controls: %w", err)
	}
	return FromControls(controls)
}

// FromControls builds a snapshot from page-reported controls. Unknown kinds
// are skipped.
func FromControls(controls []cdpcontrol.FormControl) (Snapshot, error) {
	s := Snapshot{entries: make(map[int]Entry, len(controls)), order: make([]int, 0, len(controls))}
	for _, c := range controls {
		kind := Kind(c.Kind)
		switch kind {
		case KindInput, KindTextarea, KindSelect:
		default:
			continue
		}
		if _, dup := s.entries[c.Index]; dup {
			return Snapshot{}, fmt.Errorf("formstate: duplicate control key %d", c.Index)
		}
		s.entries[c.Index] = Entry{
			Key:     c.Index,
			Kind:    kind,
			Type:    c.Type,
			Value:   c.Value,
			Checked: c.Checked,
			Values:  append([]string(nil), c.Values...),
		}
		s.order = append(s.order, c.Index)
	}
	return s, nil
}

func (s Snapshot) Len() int { return len(s.order) }

// Lookup returns the entry stored under key.
func (s Snapshot) Lookup(key int) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Patches converts the snapshot to clone patches, in key order:
//   - checkbox and radio inputs restore checked state
//   - other inputs restore value (property and attribute)
//   - textareas restore value and text content
//   - selects mark exactly the captured option values as selected
func (s Snapshot) Patches() []cdpcontrol.FormPatch {
	out := make([]cdpcontrol.FormPatch, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entries[key].Patch())
	}
	return out
}

// Patch is the clone patch for a single entry.
func (e Entry) Patch() cdpcontrol.FormPatch {
	p := cdpcontrol.FormPatch{Index: e.Key, Kind: string(e.Kind)}
	switch e.Kind {
	case KindInput:
		if e.Type == "checkbox" || e.Type == "radio" {
			checked := e.Checked
			p.Checked = &checked
		} else {
			v := e.Value
			p.Value = &v
		}
	case KindTextarea:
		v := e.Value
		p.Text = &v
	case KindSelect:
		p.Selected = append([]string{}, e.Values...)
	}
	return p
}
