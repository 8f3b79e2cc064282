// Package hooks holds the functions a kernel calls at its trace points.
// Each hook takes the critical section matching its calling context and
// forwards to the process wide tracer. Before tracer.Init, and after
// tracer.Reset, hooks do nothing.
package hooks

import (
	"github.com/tmykhalevych/event-tracer/pkg/critical"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/kernel"
	"github.com/tmykhalevych/event-tracer/pkg/tracer"
)

// Hooks binds trace points to the locks of one kernel port.
type Hooks struct {
	task *critical.Interrupts
	isr  *critical.ISRPreemption

	// TraceTicks records a TICK_COUNT_INCREASE event on every system tick.
	TraceTicks bool

	previous kernel.TaskHandle
}

// New returns hooks locking through port.
func New(port critical.Port) *Hooks {
	return &Hooks{
		task: critical.NewInterrupts(port),
		isr:  critical.NewISRPreemption(port),
	}
}

// TaskLock returns the task level lock the hooks use.
func (h *Hooks) TaskLock() *critical.Interrupts { return h.task }

// ISRLock returns the interrupt level lock the hooks use.
func (h *Hooks) ISRLock() *critical.ISRPreemption { return h.isr }

func (h *Hooks) TaskCreate(task kernel.TaskHandle) {
	h.taskEvent(domain.EventTaskCreate, task)
}

func (h *Hooks) TaskDelete(task kernel.TaskHandle) {
	h.taskEvent(domain.EventTaskDelete, task)
}

func (h *Hooks) Malloc(addr uintptr, size int) {
	h.Trace(domain.EventMalloc)
}

func (h *Hooks) Free(addr uintptr, size int) {
	h.Trace(domain.EventFree)
}

// Trace records id for the running task from task context.
func (h *Hooks) Trace(id domain.EventID) {
	h.task.Lock()
	defer h.task.Unlock()

	if t := tracer.Instance(); t != nil {
		t.RegisterEvent(id)
	}
}

// TraceFromISR records id for the running task from interrupt context.
func (h *Hooks) TraceFromISR(id domain.EventID) {
	h.isr.Lock()
	defer h.isr.Unlock()

	if t := tracer.Instance(); t != nil {
		t.RegisterEvent(id)
	}
}

// TaskSwitchedIn is called by the scheduler from interrupt context. The
// same task switched in twice in a row is recorded once.
func (h *Hooks) TaskSwitchedIn(current kernel.TaskHandle) {
	h.isr.Lock()
	defer h.isr.Unlock()

	t := tracer.Instance()
	if t == nil {
		return
	}

	ts := t.Now()
	if current == h.previous {
		return
	}
	t.RegisterTaskEventAt(domain.EventTaskSwitchedIn, current, ts)
	h.previous = current
}

// SystemTick is called from the tick interrupt.
func (h *Hooks) SystemTick(count uint64) {
	if !h.TraceTicks {
		return
	}
	h.TraceFromISR(domain.EventTickCountIncrease)
}

func (h *Hooks) taskEvent(id domain.EventID, task kernel.TaskHandle) {
	h.task.Lock()
	defer h.task.Unlock()

	if t := tracer.Instance(); t != nil {
		t.RegisterTaskEvent(id, task)
	}
}
