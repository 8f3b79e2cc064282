package output

import (
	"strconv"
	"unicode/utf8"

	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/slab"
)

// MaxLineLen returns the longest line AppendEvent produces for messages of
// at most maxMessageLen bytes, newline included.
func MaxLineLen(maxMessageLen int) int {
	const (
		skeleton = len(`{"ts":,"event":,"ctx":{"task":,"info":{"msg":""}}}` + "\n")
		digits   = 20 + 3 + 5
	)
	// Every message byte may expand to \u00XX.
	return skeleton + digits + maxMessageLen*6
}

// AppendEvent appends the JSON encoding of e to dst:
//
//	{"ts":N,"event":N,"ctx":{"task":N,"info":{"prio":N}}}
//
// The info object holds "prio", "msg" or "mark" depending on the context.
// Messages are resolved through pool; without a pool they are written as
// the lost marker. Nothing is allocated once dst has room for the line.
func AppendEvent(dst []byte, e domain.Event, pool *slab.Allocator) []byte {
	dst = append(dst, `{"ts":`...)
	dst = strconv.AppendUint(dst, e.TS, 10)
	dst = append(dst, `,"event":`...)
	dst = strconv.AppendUint(dst, uint64(e.ID), 10)
	dst = append(dst, `,"ctx":{"task":`...)
	dst = strconv.AppendUint(dst, uint64(e.Ctx.Task), 10)
	dst = append(dst, `,"info":{`...)

	switch e.Ctx.Kind() {
	case domain.ContextKindPriority:
		prio, _ := e.Ctx.Priority()
		dst = append(dst, `"prio":`...)
		dst = strconv.AppendUint(dst, uint64(prio), 10)
	case domain.ContextKindMessage:
		m, _ := e.Ctx.Message()
		if pool == nil {
			dst = appendMarker(dst, domain.MarkerMessageLost)
			break
		}
		dst = append(dst, `"msg":`...)
		dst = appendString(dst, m.Bytes(pool))
	case domain.ContextKindMarker:
		mark, _ := e.Ctx.Marker()
		dst = appendMarker(dst, mark)
	}

	return append(dst, "}}}"...)
}

func appendMarker(dst []byte, m domain.ContextMarker) []byte {
	dst = append(dst, `"mark":`...)
	return strconv.AppendUint(dst, uint64(m), 10)
}

const hex = "0123456789abcdef"

// appendString writes s as a quoted JSON string. Invalid UTF-8 is replaced
// by U+FFFD.
func appendString(dst []byte, s []byte) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			switch {
			case b == '"' || b == '\\':
				dst = append(dst, '\\', b)
			case b == '\n':
				dst = append(dst, '\\', 'n')
			case b == '\r':
				dst = append(dst, '\\', 'r')
			case b == '\t':
				dst = append(dst, '\\', 't')
			case b < 0x20:
				dst = append(dst, '\\', 'u', '0', '0', hex[b>>4], hex[b&0xf])
			default:
				dst = append(dst, b)
			}
			i++
			continue
		}

		r, size := utf8.DecodeRune(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, `�`...)
		} else {
			dst = append(dst, s[i:i+size]...)
		}
		i += size
	}
	return append(dst, '"')
}
