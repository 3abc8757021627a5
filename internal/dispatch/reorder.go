package dispatch

import "sync"

// Sequenced is implemented by items carrying a stream sequence index
type Sequenced interface {
	Sequence() uint64
}

// ReorderBuffer releases items strictly in index order, starting at 0.
// Items that arrive ahead of the next expected index are held until the gap
// is filled.
type ReorderBuffer[T Sequenced] struct {
	next     uint64
	pending  map[uint64]T
	released uint64
	mu       sync.Mutex
}

// NewReorderBuffer creates an empty reorder buffer expecting index 0
func NewReorderBuffer[T Sequenced]() *ReorderBuffer[T] {
	return &ReorderBuffer[T]{
		pending: make(map[uint64]T),
	}
}

// Accept stores item and returns the contiguous run of items now releasable,
// in index order. A duplicate or already released index returns an
// *OrderingViolation and leaves the buffer unchanged.
func (b *ReorderBuffer[T]) Accept(item T) ([]T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := item.Sequence()
	if index < b.next {
		return nil, &OrderingViolation{Index: index, Next: b.next}
	}
	if _, exists := b.pending[index]; exists {
		return nil, &OrderingViolation{Index: index, Next: b.next, Pending: true}
	}

	if index != b.next {
		b.pending[index] = item
		return nil, nil
	}

	released := []T{item}
	b.next++

	// Cascade through buffered successors
	for {
		next, exists := b.pending[b.next]
		if !exists {
			break
		}
		released = append(released, next)
		delete(b.pending, b.next)
		b.next++
	}

	b.released += uint64(len(released))
	return released, nil
}

// Next returns the index the buffer is waiting for
func (b *ReorderBuffer[T]) Next() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Pending returns the number of items held ahead of order
func (b *ReorderBuffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Released returns the total number of items released so far
func (b *ReorderBuffer[T]) Released() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}
