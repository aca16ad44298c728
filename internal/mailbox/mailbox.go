// Package mailbox provides a single-slot, overwrite-on-publish hand-off
// between one producer and one consumer goroutine.
package mailbox

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot buffer with sync.Cond blocking semantics.
//
// Semantics:
//   - Publish never blocks: a new value replaces an unconsumed one
//   - Each replaced value is counted as a drop
//   - Receive blocks until a value is available or the mailbox is closed
//
// Thread-safety:
//   - Publish: safe for concurrent calls
//   - Receive: single consumer goroutine
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	full   bool
	closed bool

	published uint64 // atomic
	drops     uint64 // atomic
}

// New creates an empty mailbox.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores v, replacing any unconsumed value.
// Returns false if the mailbox is closed.
func (m *Mailbox[T]) Publish(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	if m.full {
		atomic.AddUint64(&m.drops, 1)
	}

	m.value = v
	m.full = true
	atomic.AddUint64(&m.published, 1)

	m.cond.Signal()
	return true
}

// Receive blocks until a value is available and takes it.
// ok is false once the mailbox is closed; a pending value is discarded.
func (m *Mailbox[T]) Receive() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.full && !m.closed {
		m.cond.Wait()
	}

	if m.closed {
		var zero T
		m.value = zero
		m.full = false
		return zero, false
	}

	v = m.value
	var zero T
	m.value = zero
	m.full = false
	return v, true
}

// Close wakes the consumer and rejects further publishes. Idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cond.Broadcast()
}

// Published returns the number of accepted publishes.
func (m *Mailbox[T]) Published() uint64 { return atomic.LoadUint64(&m.published) }

// Drops returns the number of values replaced before being consumed.
func (m *Mailbox[T]) Drops() uint64 { return atomic.LoadUint64(&m.drops) }
