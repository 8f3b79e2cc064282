// Package kernel describes what the tracer needs from the RTOS it observes,
// and provides Sim, a hosted stand-in used by tools and tests.
package kernel

import "github.com/tmykhalevych/event-tracer/pkg/domain"

// TaskHandle identifies a task control block. NoTask means there is no task
// context, e.g. before the scheduler started.
type TaskHandle uintptr

const NoTask TaskHandle = 0

// TaskInfo is the snapshot of a task the tracer attaches to events.
type TaskInfo struct {
	Handle   TaskHandle
	Name     string
	Priority domain.Priority
	Number   domain.TaskID
}

// Kernel is consumed by the tracer on every event. Implementations must
// not block and must not allocate.
type Kernel interface {
	CurrentTask() TaskHandle
	TaskInfo(task TaskHandle) (TaskInfo, bool)
	InsideInterrupt() bool
}

// SystemStater is implemented by kernels able to list every task.
type SystemStater interface {
	TaskCount() int
	// SystemState fills dst and returns the number of tasks written.
	SystemState(dst []TaskInfo) (int, error)
}
