// Package ringbuf provides a fixed-capacity FIFO buffer that evicts the
// oldest entry once full.
package ringbuf

import "sync"

// Buffer is a thread-safe circular buffer.
type Buffer[T any] struct {
	entries []T
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// New creates a new ring buffer with the specified capacity.
func New[T any](size int) *Buffer[T] {
	if size < 1 {
		size = 1
	}
	return &Buffer[T]{
		entries: make([]T, size),
		size:    size,
	}
}

// Write adds an entry to the buffer, overwriting the oldest entry if full.
func (rb *Buffer[T]) Write(entry T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	}
}

// ReadAll returns all entries in chronological order.
func (rb *Buffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	result := make([]T, rb.count)

	if rb.count < rb.size {
		// Buffer not full yet, entries start at 0
		copy(result, rb.entries[:rb.count])
	} else {
		// Buffer is full, oldest entry is at head
		firstPart := rb.entries[rb.head:]
		secondPart := rb.entries[:rb.head]
		copy(result, firstPart)
		copy(result[len(firstPart):], secondPart)
	}

	return result
}

// Count returns the number of entries in the buffer.
func (rb *Buffer[T]) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the buffer capacity.
func (rb *Buffer[T]) Cap() int {
	return rb.size
}
