package tracer

import "sync/atomic"

// The process wide tracer. Kernel trace hooks are free functions with no
// way to carry a context, so they reach the tracer through Instance.
var instance atomic.Pointer[Tracer]

// Init creates the process wide tracer. Initializing twice is a
// programming error.
func Init(settings Settings) *Tracer {
	t := New(settings)
	if !instance.CompareAndSwap(nil, t) {
		panic("tracer: already initialized")
	}
	return t
}

// Reset closes and forgets the process wide tracer. It is a no-op when no
// tracer exists.
func Reset() {
	if t := instance.Swap(nil); t != nil {
		t.Close()
	}
}

// Instance returns the process wide tracer, or nil before Init.
func Instance() *Tracer {
	return instance.Load()
}

// Get returns the process wide tracer and panics before Init.
func Get() *Tracer {
	t := instance.Load()
	if t == nil {
		panic("tracer: not initialized")
	}
	return t
}
