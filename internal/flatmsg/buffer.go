package flatmsg

import (
	"reflect"
	"sync/atomic"
	"unsafe"
)

// Allocator accounts for the memory held by flat message buffers. A failed
// Reserve degrades the requested buffer to empty instead of failing the
// conversion.
type Allocator interface {
	Reserve(bytes int) bool
	Release(bytes int)
}

type unbounded struct{}

func (unbounded) Reserve(int) bool { return true }
func (unbounded) Release(int)      {}

// Unbounded never refuses a reservation.
var Unbounded Allocator = unbounded{}

// Budget is an Allocator with a fixed byte limit shared by every message
// converted through it. It is safe for concurrent use.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a Budget allowing up to limit bytes in flight. A limit
// of zero or less means no limit.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

func (b *Budget) Reserve(n int) bool {
	if n < 0 {
		return false
	}
	for {
		cur := b.used.Load()
		next := cur + int64(n)
		if b.limit > 0 && next > b.limit {
			return false
		}
		if b.used.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (b *Budget) Release(n int) {
	b.used.Add(-int64(n))
}

// InUse returns the number of bytes currently reserved.
func (b *Budget) InUse() int64 {
	return b.used.Load()
}

// Limit returns the configured byte limit, zero for unlimited.
func (b *Budget) Limit() int64 {
	return b.limit
}

// Buffer is an owned, variable-length array inside a flat message: the
// (data, length, capacity) triple. A Buffer is either empty (nil data,
// length and capacity zero) or holds exactly Len elements with Cap == Len.
type Buffer[T any] struct {
	data  []T
	owner Allocator
}

// Len returns the number of elements.
func (b Buffer[T]) Len() int { return len(b.data) }

// Cap returns the allocated capacity, always equal to Len.
func (b Buffer[T]) Cap() int { return cap(b.data) }

// IsNil reports whether the buffer holds no allocation.
func (b Buffer[T]) IsNil() bool { return b.data == nil }

// Slice exposes the elements. The slice is only valid until the owning
// message is released.
func (b Buffer[T]) Slice() []T { return b.data }

// At returns element i.
func (b Buffer[T]) At(i int) T { return b.data[i] }

// Equal compares element contents; ownership is not part of equality.
func (b Buffer[T]) Equal(o Buffer[T]) bool {
	if len(b.data) != len(o.data) {
		return false
	}
	return len(b.data) == 0 || reflect.DeepEqual(b.data, o.data)
}

// ptr returns a pointer to element i for in-place population.
func (b Buffer[T]) ptr(i int) *T { return &b.data[i] }

func (b Buffer[T]) byteSize() int {
	var zero T
	return len(b.data) * int(unsafe.Sizeof(zero))
}

// allocBuffer reserves room for n elements. Zero-length requests and
// refused reservations both yield an empty buffer.
func allocBuffer[T any](a Allocator, n int) Buffer[T] {
	if n <= 0 {
		return Buffer[T]{}
	}
	var zero T
	size := n * int(unsafe.Sizeof(zero))
	if !a.Reserve(size) {
		return Buffer[T]{}
	}
	return Buffer[T]{data: make([]T, n), owner: a}
}

// free returns the reservation and resets the buffer to empty. Freeing an
// empty buffer does nothing.
func (b *Buffer[T]) free() {
	if b.data == nil {
		return
	}
	if b.owner != nil {
		b.owner.Release(b.byteSize())
	}
	*b = Buffer[T]{}
}

// BufferOf builds a Buffer over a copy of elems, accounted against a. It is
// intended for callers that assemble flat messages by hand, such as tests and
// decoders.
func BufferOf[T any](a Allocator, elems ...T) Buffer[T] {
	if a == nil {
		a = Unbounded
	}
	b := allocBuffer[T](a, len(elems))
	copy(b.data, elems)
	return b
}
