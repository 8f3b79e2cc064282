// Package span provides a bounds-carrying view over a contiguous region of
// memory. All fixed storage used by the tracer (event registries, message
// slabs) is cut out of a single caller supplied buffer through this type.
//
// Element types used with Transform and Cut must not contain pointers: the
// reinterpreted memory is scanned by the garbage collector as the original
// element type.
package span

import (
	"fmt"
	"unsafe"
)

// Span is a view over a slice of T. The zero value is an invalid (empty) span.
type Span[T any] struct {
	data []T
}

// New wraps data into a span. The span aliases data, it never copies.
func New[T any](data []T) Span[T] {
	return Span[T]{data: data}
}

// Data returns the underlying elements.
func (s Span[T]) Data() []T {
	return s.data
}

// Len returns the number of elements in the span.
func (s Span[T]) Len() int {
	return len(s.data)
}

// SizeBytes returns the size of the span in bytes.
func (s Span[T]) SizeBytes() int {
	var zero T
	return len(s.data) * int(unsafe.Sizeof(zero))
}

// Valid reports whether the span refers to at least one element.
func (s Span[T]) Valid() bool {
	return len(s.data) > 0
}

// Bifurcate cuts the span into two pieces of equal length. When the length
// is odd the trailing element is left out.
func (s Span[T]) Bifurcate() (Span[T], Span[T]) {
	half := len(s.data) / 2
	return Span[T]{data: s.data[:half:half]}, Span[T]{data: s.data[half : 2*half : 2*half]}
}

// Cut splits off the first n elements of type C from the beginning of s.
// The remainder keeps the element type of s. At least one element of s must
// remain after the cut.
func Cut[C, T any](s Span[T], n int) (Span[C], Span[T]) {
	var c C
	var t T
	cutBytes := n * int(unsafe.Sizeof(c))
	if n < 0 || cutBytes+int(unsafe.Sizeof(t)) > s.SizeBytes() {
		panic(fmt.Sprintf("span: cannot cut %d bytes from a %d byte span", cutBytes, s.SizeBytes()))
	}

	raw := bytesOf(s)
	return Transform[C](New(raw[:cutBytes:cutBytes])), Transform[T](New(raw[cutBytes:]))
}

// Transform reinterprets the memory of s as a span of N. Trailing bytes that
// do not fill a whole N are dropped. The memory must be suitably aligned
// for N; see Align.
func Transform[N, T any](s Span[T]) Span[N] {
	var n N
	size := int(unsafe.Sizeof(n))
	if size == 0 {
		panic("span: cannot transform into a zero-size type")
	}
	if !s.Valid() {
		return Span[N]{}
	}

	ptr := unsafe.Pointer(unsafe.SliceData(s.data))
	if uintptr(ptr)%unsafe.Alignof(n) != 0 {
		panic(fmt.Sprintf("span: memory at %p is not aligned for a %d byte boundary", ptr, unsafe.Alignof(n)))
	}

	count := s.SizeBytes() / size
	if count == 0 {
		return Span[N]{}
	}
	return Span[N]{data: unsafe.Slice((*N)(ptr), count)}
}

// Align drops as many leading bytes of s as needed for its first byte to be
// aligned for N.
func Align[N any](s Span[byte]) Span[byte] {
	var n N
	if !s.Valid() {
		return s
	}

	align := unsafe.Alignof(n)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(s.data)))
	skip := int((align - addr%align) % align)
	if skip >= len(s.data) {
		return Span[byte]{}
	}
	return Span[byte]{data: s.data[skip:]}
}

func bytesOf[T any](s Span[T]) []byte {
	if !s.Valid() {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s.data))), s.SizeBytes())
}
