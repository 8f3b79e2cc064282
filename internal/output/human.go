package output

import (
	"context"
	"fmt"
	"io"

	"github.com/tmykhalevych/event-tracer/internal/client"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
)

// HumanFormatter prints one coloured line per event. Task names learned
// from TASK_CREATE and DUMP_SYSTEM_STATE events are shown next to task
// numbers.
type HumanFormatter struct {
	w       io.Writer
	palette *Palette
	names   map[domain.TaskID]string
}

var _ client.Consumer = (*HumanFormatter)(nil)

func NewHumanFormatter(w io.Writer, noColor bool) *HumanFormatter {
	return &HumanFormatter{
		w:       w,
		palette: NewPalette(noColor),
		names:   make(map[domain.TaskID]string),
	}
}

func (f *HumanFormatter) Consume(_ context.Context, batch client.Batch) error {
	for _, e := range batch.Events {
		if err := f.printEvent(e, batch); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	return nil
}

func (f *HumanFormatter) printEvent(e domain.Event, batch client.Batch) error {
	var info string
	switch e.Ctx.Kind() {
	case domain.ContextKindPriority:
		prio, _ := e.Ctx.Priority()
		info = fmt.Sprintf("prio=%d", prio)
	case domain.ContextKindMessage:
		m, _ := e.Ctx.Message()
		if batch.Messages == nil {
			info = f.palette.Warning.Sprint("mark=", domain.MarkerMessageLost)
			break
		}
		text := m.String(batch.Messages)
		if e.ID == domain.EventTaskCreate || e.ID == domain.UserDumpSystemState.EventID() {
			f.names[e.Ctx.Task] = text
		}
		info = fmt.Sprintf("msg=%q", text)
	case domain.ContextKindMarker:
		mark, _ := e.Ctx.Marker()
		info = "mark=" + mark.String()
		if mark == domain.MarkerMessageLost {
			info = f.palette.Warning.Sprint(info)
		}
	}

	name := f.palette.Kernel.Sprintf("%-28s", e.ID)
	if e.ID.IsUser() {
		name = f.palette.User.Sprintf("%-28s", e.ID)
	}

	task := fmt.Sprintf("task=%d", e.Ctx.Task)
	if n, ok := f.names[e.Ctx.Task]; ok {
		task = fmt.Sprintf("task=%s(%d)", f.palette.Task.Sprint(n), e.Ctx.Task)
	}

	_, err := fmt.Fprintf(f.w, "%s %s %s %s\n",
		f.palette.Timestamp.Sprintf("%12d", e.TS), name, task, info)
	return err
}
