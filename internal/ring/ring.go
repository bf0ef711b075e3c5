// Package ring provides a fixed-capacity, insertion-ordered buffer that evicts
// its oldest element when a new one is pushed at capacity.
package ring

// Buffer holds at most Cap() elements in insertion order. The zero value is
// not usable; create one with New.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New creates a Buffer with the given capacity. Capacities below 1 are raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// FromSlice builds a Buffer holding the newest Cap() elements of items.
func FromSlice[T any](capacity int, items []T) *Buffer[T] {
	b := New[T](capacity)
	for _, it := range items {
		b.Push(it)
	}
	return b
}

// Push appends v, evicting the oldest element if the buffer is full.
// It reports whether an element was evicted.
func (b *Buffer[T]) Push(v T) (evicted bool) {
	c := len(b.items)
	if b.size < c {
		b.items[(b.head+b.size)%c] = v
		b.size++
		return false
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % c
	return true
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th element, oldest first. It panics if i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Ptr returns a pointer to the i-th element for in-place updates.
func (b *Buffer[T]) Ptr(i int) *T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return &b.items[(b.head+i)%len(b.items)]
}

// Slice returns a copy of the contents, oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.At(i)
	}
	return out
}

// Last returns up to n of the newest elements, newest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size || n < 0 {
		n = b.size
	}
	out := make([]T, 0, n)
	for i := b.size - 1; i >= b.size-n; i-- {
		out = append(out, b.At(i))
	}
	return out
}

// Reset removes all elements.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
