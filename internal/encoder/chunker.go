package encoder

import (
	"bytes"
	"sync"
	"time"
)

// chunker buffers encoder output and hands it out every timeslice.
type chunker struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func([]byte)

	emitMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func newChunker(emit func([]byte)) *chunker {
	return &chunker{emit: emit, stop: make(chan struct{}), done: make(chan struct{})}
}

func (c *chunker) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// flush emits whatever is buffered. Empty buffers emit nothing.
func (c *chunker) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if c.buf.Len() == 0 {
		c.mu.Unlock()
		return
	}
	data := bytes.Clone(c.buf.Bytes())
	c.buf.Reset()
	c.mu.Unlock()
	c.emit(data)
}

func (c *chunker) run(every time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// close stops the ticker loop and emits the tail.
func (c *chunker) close() {
	close(c.stop)
	<-c.done
	c.flush()
}
