package telemetry

import "sync"

// ring keeps the most recent max values.
type ring[T any] struct {
	mu  sync.Mutex
	max int
	buf []T
}

func newRing[T any](max int) *ring[T] {
	return &ring[T]{max: max}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max <= 0 {
		return
	}
	if len(r.buf) >= r.max {
		n := copy(r.buf, r.buf[len(r.buf)-r.max+1:])
		r.buf = r.buf[:n]
	}
	r.buf = append(r.buf, v)
}

func (r *ring[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.buf...)
}

func (r *ring[T]) reset() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}
