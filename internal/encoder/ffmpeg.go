package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// ffmpegEncoder pipes raw RGBA frames into an ffmpeg child process and
// chunks its stdout.
type ffmpegEncoder struct {
	path string
	cand Candidate
	cfg  Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	chunks  *chunker
	copied  chan error
	stderr  bytes.Buffer
	started bool

	stopOnce sync.Once
	stopErr  error
}

func newFFmpeg(path string, cand Candidate, cfg Config) *ffmpegEncoder {
	return &ffmpegEncoder{path: path, cand: cand, cfg: cfg}
}

func (e *ffmpegEncoder) MimeType() string { return e.cand.MimeType }

func (e *ffmpegEncoder) args() []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
		"-r", strconv.Itoa(e.cfg.FPS),
		"-i", "pipe:0",
		// yuv420p needs even dimensions.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
	}
	if e.cand.Codec != "" {
		args = append(args, "-c:v", e.cand.Codec)
	}
	if e.cfg.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(e.cfg.Bitrate))
	}
	args = append(args, e.cand.Args...)
	return append(args, "-f", e.cand.Format, "pipe:1")
}

func (e *ffmpegEncoder) Start(ctx context.Context, onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("encoder: already started")
	}
	cmd := exec.CommandContext(ctx, e.path, e.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder: stdout pipe: %w", err)
	}
	cmd.Stderr = &e.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("encoder: start ffmpeg: %w", err)
	}
	e.cmd, e.stdin = cmd, stdin
	e.chunks = newChunker(onChunk)
	e.copied = make(chan error, 1)
	e.started = true
	go e.chunks.run(e.cfg.timeslice())
	go func() {
		_, err := io.Copy(e.chunks, stdout)
		e.copied <- err
	}()
	slog.Debug("encoder ffmpeg started", "pid", cmd.Process.Pid, "mime_type", e.cand.MimeType)
	return nil
}

func (e *ffmpegEncoder) WriteFrame(img *image.RGBA) error {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return errors.New("encoder: not running")
	}
	_, err := stdin.Write(packRGBA(img, e.cfg.Width, e.cfg.Height))
	return err
}

// Stop closes ffmpeg's input, waits for the trailer to be flushed, and
// delivers the last chunk.
func (e *ffmpegEncoder) Stop() error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		stdin := e.stdin
		e.stdin = nil
		started := e.started
		e.mu.Unlock()
		if !started {
			return
		}
		_ = stdin.Close()
		copyErr := <-e.copied
		e.chunks.close()
		waitErr := e.cmd.Wait()
		if waitErr != nil {
			e.stopErr = fmt.Errorf("encoder: ffmpeg exited: %w: %s", waitErr, bytes.TrimSpace(e.stderr.Bytes()))
		} else if copyErr != nil {
			e.stopErr = fmt.Errorf("encoder: read ffmpeg output: %w", copyErr)
		}
	})
	return e.stopErr
}

// packRGBA returns tightly packed w*h*4 pixels, copying only when img has a
// different stride or size.
func packRGBA(img *image.RGBA, w, h int) []byte {
	b := img.Bounds()
	if b.Min == (image.Point{}) && b.Dx() == w && b.Dy() == h && img.Stride == 4*w {
		return img.Pix[:4*w*h]
	}
	out := make([]byte, 4*w*h)
	for y := 0; y < h && y < b.Dy(); y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		n := min(b.Dx(), w) * 4
		copy(out[y*4*w:], row[:n])
	}
	return out
}
