package storage

import "sync"

// RingBuffer is a generic thread-safe ring buffer that stores a fixed number of items.
// When the buffer is full, adding a new item overwrites the oldest item.
type RingBuffer[T any] struct {
	sync.RWMutex
	items    []T
	capacity int
	head     int // next write position
	size     int // current number of items
	added    int // total items ever added
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
// The capacity must be greater than zero.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be greater than zero")
	}

	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item into the ring buffer.
// If the buffer is at capacity, this overwrites the oldest item.
func (rb *RingBuffer[T]) Add(item T) {
	rb.Lock()
	defer rb.Unlock()

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	rb.added++

	if rb.size < rb.capacity {
		rb.size++
	}
}

// GetAll returns all items in chronological order (oldest to newest).
// The returned slice is a copy and safe to modify.
func (rb *RingBuffer[T]) GetAll() []T {
	rb.RLock()
	defer rb.RUnlock()

	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)
	rb.copyInto(result)
	return result
}

// copyInto copies items oldest first. Caller holds the lock.
func (rb *RingBuffer[T]) copyInto(dst []T) {
	if rb.size < rb.capacity {
		copy(dst, rb.items[:rb.size])
		return
	}
	// Buffer has wrapped - head points to oldest item
	n := copy(dst, rb.items[rb.head:])
	copy(dst[n:], rb.items[:rb.head])
}

// Filter returns, oldest first, the items for which keep returns true.
// keep runs under the read lock and must not call back into the buffer.
func (rb *RingBuffer[T]) Filter(keep func(T) bool) []T {
	rb.RLock()
	defer rb.RUnlock()

	var result []T
	visit := func(items []T) {
		for _, item := range items {
			if keep(item) {
				result = append(result, item)
			}
		}
	}

	if rb.size < rb.capacity {
		visit(rb.items[:rb.size])
	} else {
		visit(rb.items[rb.head:])
		visit(rb.items[:rb.head])
	}
	return result
}

// GetRecent returns the N most recent items in chronological order.
// If N is greater than the current size, all items are returned.
func (rb *RingBuffer[T]) GetRecent(n int) []T {
	all := rb.GetAll()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// Size returns the current number of items in the buffer.
func (rb *RingBuffer[T]) Size() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.size
}

// Capacity returns the maximum capacity of the buffer.
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Added returns the total number of items ever added, including evicted ones.
func (rb *RingBuffer[T]) Added() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.added
}

// Clear removes all items from the buffer. The Added count is kept.
func (rb *RingBuffer[T]) Clear() {
	rb.Lock()
	defer rb.Unlock()

	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.size = 0
	rb.head = 0
}
