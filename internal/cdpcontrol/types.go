package cdpcontrol

import "fmt"

const (
	CodeValidation        = "VALIDATION"
	CodePageNotFound      = "PAGE_NOT_FOUND"
	CodeEvalFailure       = "EVAL_FAILURE"
	CodeEvalTimeout       = "EVAL_TIMEOUT"
	CodeCDPUnavailable    = "CDP_UNAVAILABLE"
	CodeNoEncoder         = "NO_ENCODER"
	CodeNoRegion          = "NO_REGION"
	CodeRasterUnavailable = "RASTER_UNAVAILABLE"
	CodeInvalidState      = "INVALID_STATE"
	CodeRecordingNotFound = "RECORDING_NOT_FOUND"
	CodeRateLimited       = "RATE_LIMITED"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError. Other packages use it so every failure that
// reaches the API carries a stable code.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func newError(code, msg string, cause error) error {
	return NewError(code, msg, cause)
}

// PageInfo describes a page target the recorder can attach to.
type PageInfo struct {
	PageID   string `json:"page_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// LayoutMetrics is the subset of Page.getLayoutMetrics the recorder needs.
// All values are CSS pixels.
type LayoutMetrics struct {
	ScrollX        float64 `json:"scroll_x"`
	ScrollY        float64 `json:"scroll_y"`
	ViewportWidth  float64 `json:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height"`
	ContentWidth   float64 `json:"content_width"`
	ContentHeight  float64 `json:"content_height"`
}

// BrowserVersion is the result of Browser.getVersion.
type BrowserVersion struct {
	Product         string `json:"product"`
	ProtocolVersion string `json:"protocol_version"`
	UserAgent       string `json:"user_agent"`
	JSVersion       string `json:"js_version,omitempty"`
}

// BindingEvent is a Runtime.bindingCalled notification routed to one page.
type BindingEvent struct {
	Name    string
	Payload string
}

// ViewportRect is a rectangle in CSS pixels relative to the visual viewport.
type ViewportRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DragResult is the raw mouse-down and mouse-up points of an area pick.
type DragResult struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Viewport is the page's inner window size and scroll offset.
type Viewport struct {
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	ScrollX          float64 `json:"scroll_x"`
	ScrollY          float64 `json:"scroll_y"`
	DevicePixelRatio float64 `json:"device_pixel_ratio"`
}

// FormControl is the live state of one input, textarea or select element.
// Index is the element's position in document order among all form controls.
type FormControl struct {
	Index   int      `json:"index"`
	Kind    string   `json:"kind"`
	Type    string   `json:"type,omitempty"`
	Value   string   `json:"value,omitempty"`
	Checked bool     `json:"checked,omitempty"`
	Values  []string `json:"values,omitempty"`
}

// FormPatch overwrites one cloned control before it is rendered.
type FormPatch struct {
	Index    int      `json:"index"`
	Kind     string   `json:"kind"`
	Checked  *bool    `json:"checked,omitempty"`
	Value    *string  `json:"value,omitempty"`
	Text     *string  `json:"text,omitempty"`
	Selected []string `json:"selected,omitempty"`
}

// RasterParams describes one region render. SX/SY are document coordinates.
type RasterParams struct {
	SX      int         `json:"sx"`
	SY      int         `json:"sy"`
	SW      int         `json:"sw"`
	SH      int         `json:"sh"`
	Exclude string      `json:"exclude,omitempty"`
	Form    []FormPatch `json:"form,omitempty"`
}

// SelectionState is the page's current text selection geometry in viewport
// coordinates.
type SelectionState struct {
	Rects []ViewportRect `json:"rects"`
	Caret *ViewportRect  `json:"caret,omitempty"`
	Input *ViewportRect  `json:"input,omitempty"`
}

// TapEvent is one interaction reported by the injected listeners.
type TapEvent struct {
	Type    string     `json:"type"`
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
	Key     string     `json:"key,omitempty"`
	Ignored bool       `json:"ignored,omitempty"`
	Target  *TapTarget `json:"target,omitempty"`
}

// TapTarget is the nearest clickable ancestor of a click target.
type TapTarget struct {
	Tag            string `json:"tag"`
	Role           string `json:"role,omitempty"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	Title          string `json:"title,omitempty"`
	AriaLabel      string `json:"aria_label,omitempty"`
	LabelledByText string `json:"labelled_by_text,omitempty"`
	Text           string `json:"text,omitempty"`
	Value          string `json:"value,omitempty"`
}

// ScanElement is an element found by the diagnostics scan.
type ScanElement struct {
	Tag       string       `json:"tag"`
	ID        string       `json:"id,omitempty"`
	Classes   []string     `json:"classes,omitempty"`
	Role      string       `json:"role,omitempty"`
	AriaLabel string       `json:"aria_label,omitempty"`
	Text      string       `json:"text,omitempty"`
	Rect      ViewportRect `json:"rect"`
	Display   string       `json:"display"`
	Visible   string       `json:"visibility"`
	Opacity   float64      `json:"opacity"`
	Parent    *ScanParent  `json:"parent,omitempty"`
}

// ScanParent identifies a scanned element's parent for selector fallback.
type ScanParent struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

// PageEnv is the environment metadata reported by the page.
type PageEnv struct {
	UserAgent string   `json:"user_agent"`
	Language  string   `json:"language"`
	Languages []string `json:"languages"`
	Platform  string   `json:"platform"`
	Timezone  string   `json:"timezone"`
	Viewport  struct {
		Width            float64 `json:"width"`
		Height           float64 `json:"height"`
		DevicePixelRatio float64 `json:"device_pixel_ratio"`
	} `json:"viewport"`
	Screen struct {
		Width       float64 `json:"width"`
		Height      float64 `json:"height"`
		AvailWidth  float64 `json:"avail_width"`
		AvailHeight float64 `json:"avail_height"`
	} `json:"screen"`
	PageURL   string `json:"page_url"`
	Referrer  string `json:"referrer"`
	Timestamp string `json:"timestamp"`
}

// ScanResult is the diagnostics scan output together with the viewport it
// was measured against.
type ScanResult struct {
	ViewportWidth  float64       `json:"viewport_width"`
	ViewportHeight float64       `json:"viewport_height"`
	Elements       []ScanElement `json:"elements"`
}

// BackgroundColor is the page background as written in CSS and as RGBA bytes.
type BackgroundColor struct {
	CSS  string   `json:"css"`
	RGBA [4]uint8 `json:"rgba"`
}
