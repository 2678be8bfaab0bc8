package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Event is one line of the recording journal.
type Event struct {
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"`
	RecordingID string    `json:"recording_id,omitempty"`
	PageID      string    `json:"page_id,omitempty"`
	Detail      any       `json:"detail,omitempty"`
}

// Journal appends Events asynchronously to journal/<date>/events.jsonl,
// rotating by size with lumberjack and by UTC date.
type Journal struct {
	baseDir   string
	maxSizeMB int
	writeCh   chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan Event, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Record queues ev without blocking. A full buffer drops the event.
func (j *Journal) Record(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = j.now().UTC()
	}
	select {
	case <-j.done:
		return fmt.Errorf("journal is closed")
	default:
	}
	select {
	case j.writeCh <- ev:
		return nil
	default:
		slog.Warn("journal buffer full, dropping event", "kind", ev.Kind)
		return fmt.Errorf("journal buffer full")
	}
}

// Close stops the writer after draining what is already queued.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case ev := <-j.writeCh:
			j.write(ev)
		case <-j.done:
			for {
				select {
				case ev := <-j.writeCh:
					j.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("journal marshal failed", "kind", ev.Kind, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if date := ev.Time.UTC().Format("2006-01-02"); date != j.currentDate || j.logger == nil {
		if err := j.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err)
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "kind", ev.Kind, "error", err)
	}
}

func (j *Journal) rotateForDate(date string) error {
	if j.logger != nil {
		_ = j.logger.Close()
		j.logger = nil
	}
	dir := filepath.Join(j.baseDir, "journal", date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	j.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "events.jsonl"),
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	j.currentDate = date
	slog.Debug("journal opened", "dir", dir)
	return nil
}
