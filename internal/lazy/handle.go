package lazy

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("handle is closed")

// Handle holds a process-wide client that is dialed on first Acquire and
// shared by every caller afterwards. A failed dial is not cached, so the next
// Acquire tries again.
type Handle[T any] struct {
	mu     sync.RWMutex
	dial   func(ctx context.Context) (T, error)
	close  func(T) error
	val    T
	ready  bool
	closed bool
}

func New[T any](dial func(ctx context.Context) (T, error), closeFn func(T) error) *Handle[T] {
	return &Handle[T]{dial: dial, close: closeFn}
}

// Acquire returns the shared client, dialing it if this is the first use.
func (h *Handle[T]) Acquire(ctx context.Context) (T, error) {
	h.mu.RLock()
	if h.ready {
		v := h.val
		h.mu.RUnlock()
		return v, nil
	}
	closed := h.closed
	h.mu.RUnlock()

	var zero T
	if closed {
		return zero, ErrClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return zero, ErrClosed
	}
	if h.ready {
		return h.val, nil
	}

	v, err := h.dial(ctx)
	if err != nil {
		return zero, err
	}
	h.val = v
	h.ready = true
	return v, nil
}

// Close releases the client if it was ever dialed. Further Acquire calls fail.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if !h.ready || h.close == nil {
		return nil
	}
	h.ready = false
	return h.close(h.val)
}
