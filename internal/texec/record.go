// Package texec analyzes task execution from JSON trace lines: it resolves
// task names, cuts the timeline into execution slices between context
// switches inside capture windows, and collects user messages.
package texec

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tmykhalevych/event-tracer/pkg/domain"
)

var (
	// ErrMalformed is returned for lines that are not a trace event.
	ErrMalformed = errors.New("malformed trace line")

	// ErrUnknownEvent is returned for event ids outside the known range.
	ErrUnknownEvent = errors.New("unknown event id")
)

// Record is one parsed trace line.
type Record struct {
	TS   uint64
	ID   domain.EventID
	Task domain.TaskID
	Kind domain.ContextKind
	Prio domain.Priority
	Msg  string
	Mark domain.ContextMarker
}

// Text returns the message, or the marker name when the message was lost.
func (r Record) Text() string {
	if r.Kind == domain.ContextKindMarker {
		return r.Mark.String()
	}
	return r.Msg
}

var paths = []string{"ts", "event", "ctx.task", "ctx.info.prio", "ctx.info.msg", "ctx.info.mark"}

// ParseLine decodes one line of the wire format.
func ParseLine(line []byte) (Record, error) {
	if !gjson.ValidBytes(line) {
		return Record{}, ErrMalformed
	}

	res := gjson.GetManyBytes(line, paths...)
	ts, id, task := res[0], res[1], res[2]
	if ts.Type != gjson.Number || id.Type != gjson.Number || task.Type != gjson.Number {
		return Record{}, fmt.Errorf("%w: missing ts, event or ctx.task", ErrMalformed)
	}

	if raw := id.Uint(); raw > 255 || !domain.EventID(raw).Valid() {
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownEvent, raw)
	}

	r := Record{
		TS:   ts.Uint(),
		ID:   domain.EventID(id.Uint()),
		Task: domain.TaskID(task.Uint()),
	}

	switch prio, msg, mark := res[3], res[4], res[5]; {
	case prio.Exists():
		r.Kind, r.Prio = domain.ContextKindPriority, domain.Priority(prio.Uint())
	case msg.Exists():
		r.Kind, r.Msg = domain.ContextKindMessage, msg.String()
	case mark.Exists():
		r.Kind, r.Mark = domain.ContextKindMarker, domain.ContextMarker(mark.Uint())
	}
	return r, nil
}
