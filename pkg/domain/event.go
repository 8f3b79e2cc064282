// Package domain defines the fixed-size event record captured by the tracer,
// the closed set of event identifiers and the context variants an event can
// carry.
package domain

import (
	"fmt"

	"github.com/tmykhalevych/event-tracer/pkg/message"
)

// TimestampBits is the resolution of a stored event timestamp.
const TimestampBits = 40

// TimestampMask keeps the low TimestampBits of a timestamp.
const TimestampMask uint64 = 1<<TimestampBits - 1

// TaskID is the kernel assigned task number.
type TaskID uint16

// Priority is a task priority as reported by the kernel.
type Priority uint16

// Event is the unit recorded by the tracer. Its size is fixed so registries
// can be flat arrays over pre-allocated storage.
type Event struct {
	// TS is relative to the epoch of the registry holding the event.
	TS  uint64
	ID  EventID
	Ctx Context
}

// ContextMarker tags events that carry neither a priority nor a message.
type ContextMarker uint8

const (
	MarkerUndefined ContextMarker = iota
	// MarkerGlobalScope is used for events raised without a task, e.g.
	// before the scheduler started.
	MarkerGlobalScope
	// MarkerMessageLost replaces a message that could not be interned.
	MarkerMessageLost
)

func (m ContextMarker) String() string {
	switch m {
	case MarkerGlobalScope:
		return "GLOBAL_SCOPE"
	case MarkerMessageLost:
		return "MESSAGE_LOST"
	default:
		return "UNDEFINED"
	}
}

// ContextKind identifies the active variant of a Context.
type ContextKind uint8

const (
	ContextKindNone ContextKind = iota
	ContextKindPriority
	ContextKindMessage
	ContextKindMarker
)

func (k ContextKind) String() string {
	switch k {
	case ContextKindPriority:
		return "prio"
	case ContextKindMessage:
		return "msg"
	case ContextKindMarker:
		return "mark"
	default:
		return "none"
	}
}

// Context is the payload of an event: the acting task and exactly one of a
// priority, an interned message or a marker. The kind is kept next to the
// value because the wire format is self-describing.
type Context struct {
	Task  TaskID
	kind  ContextKind
	value uint16
}

// PriorityContext builds a context carrying the task priority.
func PriorityContext(task TaskID, prio Priority) Context {
	return Context{Task: task, kind: ContextKindPriority, value: uint16(prio)}
}

// MessageContext builds a context referencing an interned message.
func MessageContext(task TaskID, msg message.Message) Context {
	return Context{Task: task, kind: ContextKindMessage, value: uint16(msg)}
}

// MarkerContext builds a context carrying a marker.
func MarkerContext(task TaskID, marker ContextMarker) Context {
	return Context{Task: task, kind: ContextKindMarker, value: uint16(marker)}
}

// Kind returns the active variant.
func (c Context) Kind() ContextKind { return c.kind }

// Priority returns the priority variant.
func (c Context) Priority() (Priority, bool) {
	return Priority(c.value), c.kind == ContextKindPriority
}

// Message returns the message variant.
func (c Context) Message() (message.Message, bool) {
	return message.Message(c.value), c.kind == ContextKindMessage
}

// Marker returns the marker variant.
func (c Context) Marker() (ContextMarker, bool) {
	return ContextMarker(c.value), c.kind == ContextKindMarker
}

func (c Context) String() string {
	switch c.kind {
	case ContextKindPriority:
		return fmt.Sprintf("task=%d prio=%d", c.Task, c.value)
	case ContextKindMessage:
		return fmt.Sprintf("task=%d msg=#%d", c.Task, c.value)
	case ContextKindMarker:
		return fmt.Sprintf("task=%d mark=%s", c.Task, ContextMarker(c.value))
	default:
		return fmt.Sprintf("task=%d", c.Task)
	}
}
