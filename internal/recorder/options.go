package recorder

import (
	"fmt"
	"math"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
	"github.com/dgnsrekt/regioncap/internal/encoder"
	"github.com/dgnsrekt/regioncap/internal/overlay"
)

const (
	DefaultFPS        = 8
	DefaultMaxSeconds = 30
	// DefaultMaxBytes is 9.5 MiB.
	DefaultMaxBytes   = 9961472
	DefaultPrimeDelay = 60 * time.Millisecond

	bitrateMargin = 0.9
	frameTimeout  = 5 * time.Second
)

// Options configures one capture session. Zero fields take the defaults.
type Options struct {
	FPS        int     `json:"fps" yaml:"fps"`
	MaxSeconds float64 `json:"max_seconds" yaml:"max_seconds"`
	MaxBytes   int     `json:"max_bytes" yaml:"max_bytes"`

	Timeslice     time.Duration `json:"-" yaml:"timeslice"`
	PrimeDelay    time.Duration `json:"-" yaml:"prime_delay"`
	CaptionWindow time.Duration `json:"-" yaml:"caption_window"`
	// Selection turns on the selection highlight and caret. The service
	// configuration enables it by default.
	Selection bool `json:"selection" yaml:"-"`
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.FPS == 0 {
		o.FPS = DefaultFPS
	}
	if o.MaxSeconds == 0 {
		o.MaxSeconds = DefaultMaxSeconds
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Timeslice == 0 {
		o.Timeslice = encoder.DefaultTimeslice
	}
	if o.PrimeDelay == 0 {
		o.PrimeDelay = DefaultPrimeDelay
	}
	if o.CaptionWindow == 0 {
		o.CaptionWindow = overlay.DefaultCaptionWindow
	}
	return o
}

func (o Options) Validate() error {
	switch {
	case o.FPS < 1 || o.FPS > 60:
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("fps must be in [1, 60], got %d", o.FPS), nil)
	case o.MaxSeconds <= 0 || math.IsNaN(o.MaxSeconds) || math.IsInf(o.MaxSeconds, 0):
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, "max_seconds must be > 0", nil)
	case o.MaxBytes < 1:
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, "max_bytes must be > 0", nil)
	}
	return nil
}

// Bitrate is the target bitrate in bits per second: the byte budget spread
// over the duration, less a 10% margin.
func (o Options) Bitrate() int {
	return int(math.Floor(float64(o.MaxBytes) * 8 / o.MaxSeconds * bitrateMargin))
}

func (o Options) maxDuration() time.Duration {
	return time.Duration(o.MaxSeconds * float64(time.Second))
}

func (o Options) tickInterval() time.Duration {
	return time.Second / time.Duration(o.FPS)
}
