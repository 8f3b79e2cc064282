// Package message interns bounded-length strings into slabs.
//
// A Message is only the index of the slab holding the text. It does not own
// the slab: the text is reachable only through the allocator that created
// it, and a message that is never destroyed keeps its slab forever.
package message

import (
	"bytes"
	"fmt"
	"math"

	"github.com/tmykhalevych/event-tracer/pkg/slab"
)

// Message is a handle to an interned string.
type Message uint16

// MaxSlabs is the largest pool a Message can address.
const MaxSlabs = math.MaxUint16 + 1

// Create copies text into a fresh slab of pool. The text is truncated to
// leave room for a terminating zero byte. When the pool is exhausted the
// allocator error is returned and nothing is copied.
func Create(text string, pool *slab.Allocator) (Message, error) {
	if pool.Capacity() > MaxSlabs {
		panic(fmt.Sprintf("message: pool of %d slabs exceeds the handle range", pool.Capacity()))
	}

	index, err := pool.Allocate()
	if err != nil {
		return 0, err
	}

	slot := pool.Slot(index)
	n := copy(slot[:len(slot)-1], text)
	slot[n] = 0

	return Message(index), nil
}

// Destroy returns the slab of m to pool.
func Destroy(m Message, pool *slab.Allocator) {
	pool.Deallocate(int(m))
}

// Bytes returns the interned text without copying. The slice aliases the
// slab and is only valid until m is destroyed.
func (m Message) Bytes(pool *slab.Allocator) []byte {
	slot := pool.Slot(int(m))
	if end := bytes.IndexByte(slot, 0); end >= 0 {
		return slot[:end]
	}
	return slot
}

// String returns a copy of the interned text.
func (m Message) String(pool *slab.Allocator) string {
	return string(m.Bytes(pool))
}
