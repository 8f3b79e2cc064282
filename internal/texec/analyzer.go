package texec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tmykhalevych/event-tracer/pkg/domain"
)

// Slice is an uninterrupted stretch of execution of one task.
type Slice struct {
	Task  domain.TaskID `json:"task" yaml:"task"`
	Name  string        `json:"name,omitempty" yaml:"name,omitempty"`
	Start uint64        `json:"start" yaml:"start"`
	End   uint64        `json:"end" yaml:"end"`
}

func (s Slice) Duration() uint64 { return s.End - s.Start }

// Window is a START_CAPTURING..STOP_CAPTURING range.
type Window struct {
	Start uint64 `json:"start" yaml:"start"`
	End   uint64 `json:"end" yaml:"end"`
	// Open is set when the trace ended before STOP_CAPTURING.
	Open bool `json:"open,omitempty" yaml:"open,omitempty"`
}

// UserMessage is a MESSAGE event seen inside a window.
type UserMessage struct {
	TS   uint64        `json:"ts" yaml:"ts"`
	Task domain.TaskID `json:"task" yaml:"task"`
	Name string        `json:"name,omitempty" yaml:"name,omitempty"`
	Text string        `json:"text" yaml:"text"`
}

// TaskSummary aggregates the slices of one task.
type TaskSummary struct {
	Task    domain.TaskID `json:"task" yaml:"task"`
	Name    string        `json:"name,omitempty" yaml:"name,omitempty"`
	Slices  int           `json:"slices" yaml:"slices"`
	Runtime uint64        `json:"runtime" yaml:"runtime"`
	Share   float64       `json:"share" yaml:"share"`
}

// Report is the result of an analysis.
type Report struct {
	ID          string        `json:"id" yaml:"id"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
	Events      int           `json:"events" yaml:"events"`
	Skipped     int           `json:"skipped" yaml:"skipped"`
	OutOfOrder  int           `json:"out_of_order" yaml:"out_of_order"`
	Captured    uint64        `json:"captured" yaml:"captured"`
	Windows     []Window      `json:"windows" yaml:"windows"`
	Tasks       []TaskSummary `json:"tasks" yaml:"tasks"`
	Slices      []Slice       `json:"slices" yaml:"slices"`
	Messages    []UserMessage `json:"messages" yaml:"messages"`
}

// Analyzer consumes records in trace order.
type Analyzer struct {
	names map[domain.TaskID]string

	events     int
	skipped    int
	outOfOrder int
	lastTS     uint64

	capturing bool
	running   *Slice
	windows   []Window
	slices    []Slice
	messages  []UserMessage
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{names: make(map[domain.TaskID]string)}
}

// Push feeds one record. Records older than the previous one are counted
// and ignored.
func (a *Analyzer) Push(r Record) {
	if a.events > 0 && r.TS < a.lastTS {
		a.outOfOrder++
		return
	}
	a.events++
	a.lastTS = r.TS

	switch r.ID {
	case domain.EventTaskCreate, domain.UserDumpSystemState.EventID():
		if r.Kind == domain.ContextKindMessage && r.Msg != "" {
			a.names[r.Task] = r.Msg
		}

	case domain.UserStartCapturing.EventID():
		if a.capturing {
			return
		}
		a.capturing = true
		a.windows = append(a.windows, Window{Start: r.TS})
		if r.Kind == domain.ContextKindPriority {
			a.running = &Slice{Task: r.Task, Start: r.TS}
		}

	case domain.UserStopCapturing.EventID():
		if !a.capturing {
			return
		}
		a.closeRunning(r.TS)
		a.capturing = false
		a.windows[len(a.windows)-1].End = r.TS

	case domain.EventTaskSwitchedIn:
		if !a.capturing {
			return
		}
		if a.running != nil && a.running.Task == r.Task {
			return
		}
		a.closeRunning(r.TS)
		a.running = &Slice{Task: r.Task, Start: r.TS}

	case domain.UserMessage.EventID():
		if a.capturing {
			a.messages = append(a.messages, UserMessage{TS: r.TS, Task: r.Task, Text: r.Text()})
		}
	}
}

// Skip counts a line that could not be parsed.
func (a *Analyzer) Skip() {
	a.skipped++
}

func (a *Analyzer) closeRunning(ts uint64) {
	if a.running == nil {
		return
	}
	a.running.End = ts
	if a.running.Duration() > 0 {
		a.slices = append(a.slices, *a.running)
	}
	a.running = nil
}

// Report summarizes everything pushed so far. A window still open is
// closed at the last timestamp seen.
func (a *Analyzer) Report() *Report {
	slices := append([]Slice(nil), a.slices...)
	windows := append([]Window(nil), a.windows...)
	if a.capturing {
		if a.running != nil && a.lastTS > a.running.Start {
			slices = append(slices, Slice{Task: a.running.Task, Start: a.running.Start, End: a.lastTS})
		}
		windows[len(windows)-1].End = a.lastTS
		windows[len(windows)-1].Open = true
	}

	report := &Report{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now(),
		Events:      a.events,
		Skipped:     a.skipped,
		OutOfOrder:  a.outOfOrder,
		Windows:     windows,
		Slices:      slices,
		Messages:    make([]UserMessage, 0, len(a.messages)),
	}

	for _, w := range windows {
		report.Captured += w.End - w.Start
	}

	byTask := make(map[domain.TaskID]*TaskSummary)
	for i := range report.Slices {
		s := &report.Slices[i]
		s.Name = a.names[s.Task]

		sum, ok := byTask[s.Task]
		if !ok {
			sum = &TaskSummary{Task: s.Task, Name: s.Name}
			byTask[s.Task] = sum
		}
		sum.Slices++
		sum.Runtime += s.Duration()
	}

	report.Tasks = make([]TaskSummary, 0, len(byTask))
	for _, sum := range byTask {
		if report.Captured > 0 {
			sum.Share = float64(sum.Runtime) / float64(report.Captured)
		}
		report.Tasks = append(report.Tasks, *sum)
	}
	sort.Slice(report.Tasks, func(i, j int) bool {
		if report.Tasks[i].Runtime != report.Tasks[j].Runtime {
			return report.Tasks[i].Runtime > report.Tasks[j].Runtime
		}
		return report.Tasks[i].Task < report.Tasks[j].Task
	})

	for _, m := range a.messages {
		m.Name = a.names[m.Task]
		report.Messages = append(report.Messages, m)
	}
	return report
}

// Analyze reads JSON trace lines from r until EOF. Lines that are not trace
// events are skipped and counted.
func Analyze(ctx context.Context, r io.Reader) (*Report, error) {
	a := NewAnalyzer()

	scanner := bufio.NewScanner(r)
	for line := 0; scanner.Scan(); line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		rec, err := ParseLine(data)
		if err != nil {
			if errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownEvent) {
				a.Skip()
				continue
			}
			return nil, err
		}
		a.Push(rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read traces: %w", err)
	}
	return a.Report(), nil
}
