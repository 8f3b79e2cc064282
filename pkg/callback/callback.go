// Package callback provides nullable, fixed-size callback holders used to
// glue the tracer components together without allocating on the call path.
//
// Every holder is a single function word. Copying a holder copies the word;
// invoking it never allocates. Invoking an empty holder is a programming
// error and panics with ErrEmpty.
package callback

import "errors"

// ErrEmpty is the panic value raised when an empty callback is invoked.
var ErrEmpty = errors.New("callback: invoking empty callable")

// Func holds a callback taking one argument.
type Func[A any] struct {
	fn func(A)
}

// New wraps fn. A nil fn yields an empty holder.
func New[A any](fn func(A)) Func[A] {
	return Func[A]{fn: fn}
}

// Bind returns a holder invoking method on recv. The method expression is
// resolved once here, so calls through the holder do not allocate.
func Bind[R, A any](recv *R, method func(*R, A)) Func[A] {
	if recv == nil || method == nil {
		return Func[A]{}
	}
	return Func[A]{fn: func(a A) { method(recv, a) }}
}

// Valid reports whether the holder contains a callable.
func (f Func[A]) Valid() bool { return f.fn != nil }

// Call invokes the callable.
func (f Func[A]) Call(a A) {
	if f.fn == nil {
		panic(ErrEmpty)
	}
	f.fn(a)
}

// Reset empties the holder.
func (f *Func[A]) Reset() { f.fn = nil }

// Func2 holds a callback taking two arguments.
type Func2[A, B any] struct {
	fn func(A, B)
}

// New2 wraps fn.
func New2[A, B any](fn func(A, B)) Func2[A, B] {
	return Func2[A, B]{fn: fn}
}

func (f Func2[A, B]) Valid() bool { return f.fn != nil }

func (f Func2[A, B]) Call(a A, b B) {
	if f.fn == nil {
		panic(ErrEmpty)
	}
	f.fn(a, b)
}

func (f *Func2[A, B]) Reset() { f.fn = nil }

// Thunk holds a callback without arguments, typically a completion signal.
type Thunk struct {
	fn func()
}

// NewThunk wraps fn.
func NewThunk(fn func()) Thunk {
	return Thunk{fn: fn}
}

func (f Thunk) Valid() bool { return f.fn != nil }

func (f Thunk) Call() {
	if f.fn == nil {
		panic(ErrEmpty)
	}
	f.fn()
}

func (f *Thunk) Reset() { f.fn = nil }

// Getter holds a callback producing a value, such as a clock.
type Getter[R any] struct {
	fn func() R
}

// NewGetter wraps fn.
func NewGetter[R any](fn func() R) Getter[R] {
	return Getter[R]{fn: fn}
}

func (f Getter[R]) Valid() bool { return f.fn != nil }

func (f Getter[R]) Call() R {
	if f.fn == nil {
		panic(ErrEmpty)
	}
	return f.fn()
}

func (f *Getter[R]) Reset() { f.fn = nil }
