// Package slab implements a fixed-size block allocator over caller supplied
// memory. Free blocks are chained into an intrusive free list: the first
// four bytes of every free slab hold the index of the next free slab. The
// allocator itself owns no memory besides its bookkeeping fields.
package slab

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tmykhalevych/event-tracer/pkg/span"
)

// LinkSize is the number of bytes of a free slab used by the free list link.
// Slabs smaller than this cannot be managed.
const LinkSize = 4

// ErrExhausted is returned when every slab is in use.
var ErrExhausted = errors.New("slab pool exhausted")

const endOfList = ^uint32(0)

// Allocator hands out fixed-size slabs identified by their index.
//
// Allocator is not safe for concurrent use; callers serialize access with the
// same critical section that guards the tracer.
type Allocator struct {
	storage  []byte
	slabSize int
	slabs    int
	head     uint32
	free     int
}

// New partitions storage into slabs of slabSize bytes. Trailing bytes that
// do not fill a whole slab are left unused.
func New(storage span.Span[byte], slabSize int) *Allocator {
	if !storage.Valid() {
		panic("slab: empty backing storage")
	}
	if slabSize < LinkSize {
		panic(fmt.Sprintf("slab: slab size %d is smaller than the free list link (%d)", slabSize, LinkSize))
	}
	if storage.Len() < slabSize {
		panic(fmt.Sprintf("slab: storage of %d bytes cannot hold a %d byte slab", storage.Len(), slabSize))
	}

	slabs := storage.Len() / slabSize
	if uint64(slabs) >= uint64(endOfList) {
		panic(fmt.Sprintf("slab: %d slabs exceed the index range", slabs))
	}

	a := &Allocator{
		storage:  storage.Data()[: slabs*slabSize : slabs*slabSize],
		slabSize: slabSize,
		slabs:    slabs,
	}
	a.rebuild()
	return a
}

// rebuild links every slab into the free list in address order.
func (a *Allocator) rebuild() {
	for i := 0; i < a.slabs-1; i++ {
		a.setLink(i, uint32(i+1))
	}
	a.setLink(a.slabs-1, endOfList)
	a.head = 0
	a.free = a.slabs
}

// Allocate pops the head of the free list. It returns ErrExhausted when no
// slab is free; exhaustion is an expected condition, not a failure.
func (a *Allocator) Allocate() (int, error) {
	if a.head == endOfList {
		return 0, ErrExhausted
	}

	index := int(a.head)
	a.head = a.link(index)
	a.free--
	return index, nil
}

// Deallocate pushes the slab back onto the head of the free list.
func (a *Allocator) Deallocate(index int) {
	a.check(index)

	a.setLink(index, a.head)
	a.head = uint32(index)
	a.free++
}

// Slot returns the memory of slab index. The slice is only meaningful while
// the slab is allocated.
func (a *Allocator) Slot(index int) []byte {
	a.check(index)
	offset := index * a.slabSize
	return a.storage[offset : offset+a.slabSize : offset+a.slabSize]
}

// SlabSize returns the size of a single slab in bytes.
func (a *Allocator) SlabSize() int { return a.slabSize }

// Capacity returns the total number of slabs.
func (a *Allocator) Capacity() int { return a.slabs }

// Free returns the number of slabs currently on the free list.
func (a *Allocator) Free() int { return a.free }

func (a *Allocator) check(index int) {
	if index < 0 || index >= a.slabs {
		panic(fmt.Sprintf("slab: index %d outside of the backing buffer (%d slabs)", index, a.slabs))
	}
}

func (a *Allocator) link(index int) uint32 {
	return binary.LittleEndian.Uint32(a.storage[index*a.slabSize:])
}

func (a *Allocator) setLink(index int, next uint32) {
	binary.LittleEndian.PutUint32(a.storage[index*a.slabSize:], next)
}
