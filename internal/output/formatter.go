// Package output renders delivered trace batches. JSON lines follow the
// wire format read by the texec analyzer; the human format is meant for a
// terminal.
package output

import (
	"context"
	"fmt"
	"io"

	"github.com/tmykhalevych/event-tracer/internal/client"
)

// JSONFormatter writes one JSON line per event.
type JSONFormatter struct {
	w   io.Writer
	buf []byte
}

var _ client.Consumer = (*JSONFormatter)(nil)

// NewJSONFormatter returns a formatter whose line buffer is sized for
// messages of maxMessageLen bytes, so formatting does not allocate.
func NewJSONFormatter(w io.Writer, maxMessageLen int) *JSONFormatter {
	return &JSONFormatter{
		w:   w,
		buf: make([]byte, 0, MaxLineLen(maxMessageLen)),
	}
}

func (f *JSONFormatter) Consume(_ context.Context, batch client.Batch) error {
	for _, e := range batch.Events {
		f.buf = AppendEvent(f.buf[:0], e, batch.Messages)
		f.buf = append(f.buf, '\n')
		if _, err := f.w.Write(f.buf); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	return nil
}
