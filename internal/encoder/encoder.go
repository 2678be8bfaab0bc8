// Package encoder turns a stream of RGBA frames into timesliced video chunks.
//
// The codec is negotiated once per session from an ordered candidate list;
// the first configuration the host supports wins.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/dgnsrekt/regioncap/internal/cdpcontrol"
)

// DefaultTimeslice is how often buffered output is flushed as a chunk,
// independent of the frame rate.
const DefaultTimeslice = 500 * time.Millisecond

// MimeMJPEG is the built-in fallback format: concatenated JPEG frames.
const MimeMJPEG = "video/x-motion-jpeg"

// Config sizes one encoding session.
type Config struct {
	Width   int
	Height  int
	FPS     int
	Bitrate int
	// Timeslice defaults to DefaultTimeslice.
	Timeslice time.Duration
}

func (c Config) validate() error {
	if c.Width < 1 || c.Height < 1 {
		return fmt.Errorf("encoder: frame size must be at least 1x1, got %dx%d", c.Width, c.Height)
	}
	if c.FPS < 1 {
		return fmt.Errorf("encoder: fps must be >= 1, got %d", c.FPS)
	}
	return nil
}

func (c Config) timeslice() time.Duration {
	if c.Timeslice <= 0 {
		return DefaultTimeslice
	}
	return c.Timeslice
}

// Encoder consumes frames and delivers encoded chunks in order.
type Encoder interface {
	MimeType() string
	// Start begins encoding. onChunk is called from an encoder goroutine,
	// never concurrently with itself.
	Start(ctx context.Context, onChunk func([]byte)) error
	WriteFrame(img *image.RGBA) error
	// Stop ends the session and returns once the final chunk has been
	// delivered. Calling it again is a no-op.
	Stop() error
}

// Factory negotiates an encoder for a session.
type Factory interface {
	New(ctx context.Context, cfg Config) (Encoder, error)
}

// Candidate is one ffmpeg-backed configuration.
type Candidate struct {
	MimeType string
	// Codec is the ffmpeg encoder name. Empty means the muxer default.
	Codec  string
	Format string
	Args   []string
}

// Candidates is the preference order: MP4/H.264, then WebM VP9, VP8, and
// plain WebM.
var Candidates = []Candidate{
	{
		MimeType: "video/mp4;codecs=avc1",
		Codec:    "libx264",
		Format:   "mp4",
		Args:     []string{"-pix_fmt", "yuv420p", "-preset", "veryfast", "-movflags", "frag_keyframe+empty_moov+default_base_moof"},
	},
	{
		MimeType: "video/webm;codecs=vp9",
		Codec:    "libvpx-vp9",
		Format:   "webm",
		Args:     []string{"-deadline", "realtime", "-cpu-used", "8"},
	},
	{
		MimeType: "video/webm;codecs=vp8",
		Codec:    "libvpx",
		Format:   "webm",
		Args:     []string{"-deadline", "realtime", "-cpu-used", "8"},
	},
	{
		MimeType: "video/webm",
		Format:   "webm",
	},
}

// Negotiator picks the first supported candidate and falls back to MJPEG
// when allowed.
type Negotiator struct {
	FFmpegPath string
	AllowMJPEG bool
	// Probe lists the encoders the ffmpeg binary supports.
	Probe func(ctx context.Context, ffmpegPath string) (map[string]bool, error)
}

func NewNegotiator(ffmpegPath string, allowMJPEG bool) *Negotiator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Negotiator{FFmpegPath: ffmpegPath, AllowMJPEG: allowMJPEG, Probe: ProbeFFmpeg}
}

// New returns an unstarted encoder for cfg, or a NO_ENCODER error when no
// configuration is supported.
func (n *Negotiator) New(ctx context.Context, cfg Config) (Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, cdpcontrol.NewError(cdpcontrol.CodeValidation, err.Error(), nil)
	}
	supported, err := n.Probe(ctx, n.FFmpegPath)
	if err != nil {
		slog.Debug("encoder ffmpeg probe failed", "path", n.FFmpegPath, "error", err)
	}
	if c, ok := Select(Candidates, supported); ok {
		slog.Info("encoder negotiated", "mime_type", c.MimeType, "codec", c.Codec)
		return newFFmpeg(n.FFmpegPath, c, cfg), nil
	}
	if n.AllowMJPEG {
		slog.Info("encoder negotiated", "mime_type", MimeMJPEG)
		return NewMJPEG(cfg), nil
	}
	return nil, cdpcontrol.NewError(cdpcontrol.CodeNoEncoder, "no supported video encoder configuration", err)
}

// Select returns the first candidate whose codec is supported. A nil map
// means ffmpeg is unavailable and nothing matches.
func Select(candidates []Candidate, supported map[string]bool) (Candidate, bool) {
	if supported == nil {
		return Candidate{}, false
	}
	for _, c := range candidates {
		if c.Codec == "" || supported[c.Codec] {
			return c, true
		}
	}
	return Candidate{}, false
}

// ProbeFFmpeg runs "ffmpeg -encoders" and returns the video encoder names.
func ProbeFFmpeg(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	path, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("locate ffmpeg: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	return ParseEncoders(out), nil
}

// ParseEncoders reads the table printed by "ffmpeg -encoders". Rows after the
// "------" separator look like " V....D libx264   description".
func ParseEncoders(out []byte) map[string]bool {
	encoders := map[string]bool{}
	inTable := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'V' {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}
