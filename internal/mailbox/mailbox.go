// Package mailbox provides the ordered, optionally capped FIFO used as the
// inbox of every pipeline actor.
package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a FIFO queue with a single wake-up channel. Messages from one
// sender are received in send order. A zero capacity means unbounded; a
// positive capacity drops the oldest queued message when full.
type Mailbox[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	notify   chan struct{}
	dropped  atomic.Uint64
}

// New creates a mailbox. capacity <= 0 disables the cap.
func New[T any](capacity int) *Mailbox[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Mailbox[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Send enqueues v. It returns false when the mailbox has been closed.
func (m *Mailbox[T]) Send(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.capacity > 0 && len(m.items) >= m.capacity {
		var zero T
		m.items[0] = zero
		m.items = m.items[1:]
		m.dropped.Add(1)
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Receive blocks until a message is available, the mailbox is closed and
// drained, or ctx is done. ok is false in the last two cases.
func (m *Mailbox[T]) Receive(ctx context.Context) (v T, ok bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v = m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return v, false
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			return v, false
		}
	}
}

// Close stops accepting messages. Already queued messages can still be
// received. Close is safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of queued messages.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Dropped returns how many messages were discarded because of the cap.
func (m *Mailbox[T]) Dropped() uint64 {
	return m.dropped.Load()
}
