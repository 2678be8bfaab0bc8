package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
)

const mjpegQuality = 80

// MJPEG is the built-in encoder: each frame is a baseline JPEG appended to
// the stream. It needs no external binary.
type MJPEG struct {
	cfg Config

	mu       sync.Mutex
	chunks   *chunker
	started  bool
	stopped  bool
	stopOnce sync.Once
}

func NewMJPEG(cfg Config) *MJPEG { return &MJPEG{cfg: cfg} }

func (m *MJPEG) MimeType() string { return MimeMJPEG }

func (m *MJPEG) Start(_ context.Context, onChunk func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("encoder: already started")
	}
	m.started = true
	m.chunks = newChunker(onChunk)
	go m.chunks.run(m.cfg.timeslice())
	return nil
}

func (m *MJPEG) WriteFrame(img *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return errors.New("encoder: not running")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: mjpegQuality}); err != nil {
		return err
	}
	_, err := m.chunks.Write(buf.Bytes())
	return err
}

func (m *MJPEG) Stop() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.stopped = true
		m.mu.Unlock()
		if started {
			m.chunks.close()
		}
	})
	return nil
}
