package kernel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tmykhalevych/event-tracer/pkg/domain"
)

var (
	ErrUnknownTask         = errors.New("unknown task")
	ErrStateBufferTooSmall = errors.New("system state buffer too small")
)

const (
	simFirstHandle TaskHandle = 0x2000_0000
	simHandleStep  TaskHandle = 0x100
)

// Sim is an in-memory kernel. Task handles look like control block
// addresses and task numbers start at 1, as on a real target.
type Sim struct {
	mu         sync.RWMutex
	tasks      map[TaskHandle]TaskInfo
	order      []TaskHandle
	nextHandle TaskHandle
	nextNumber domain.TaskID

	current atomic.Uintptr
	isr     atomic.Bool
}

var (
	_ Kernel       = (*Sim)(nil)
	_ SystemStater = (*Sim)(nil)
)

// NewSim returns a kernel with no tasks and no running task.
func NewSim() *Sim {
	return &Sim{
		tasks:      make(map[TaskHandle]TaskInfo),
		nextHandle: simFirstHandle,
		nextNumber: 1,
	}
}

// CreateTask registers a task and returns its handle.
func (s *Sim) CreateTask(name string, prio domain.Priority) TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.nextHandle
	s.nextHandle += simHandleStep
	s.tasks[h] = TaskInfo{Handle: h, Name: name, Priority: prio, Number: s.nextNumber}
	s.nextNumber++
	s.order = append(s.order, h)
	return h
}

// DeleteTask removes a task. Deleting the running task leaves the kernel
// without a current task.
func (s *Sim) DeleteTask(h TaskHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[h]; !ok {
		return fmt.Errorf("delete %#x: %w", uintptr(h), ErrUnknownTask)
	}
	delete(s.tasks, h)
	for i, o := range s.order {
		if o == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.current.CompareAndSwap(uintptr(h), uintptr(NoTask))
	return nil
}

// Switch makes h the running task. NoTask is accepted.
func (s *Sim) Switch(h TaskHandle) error {
	if h != NoTask {
		s.mu.RLock()
		_, ok := s.tasks[h]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("switch to %#x: %w", uintptr(h), ErrUnknownTask)
		}
	}
	s.current.Store(uintptr(h))
	return nil
}

// SetPriority changes the current priority of a task.
func (s *Sim) SetPriority(h TaskHandle, prio domain.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.tasks[h]
	if !ok {
		return fmt.Errorf("set priority of %#x: %w", uintptr(h), ErrUnknownTask)
	}
	info.Priority = prio
	s.tasks[h] = info
	return nil
}

// SetInsideInterrupt marks whether the caller runs in interrupt context.
func (s *Sim) SetInsideInterrupt(inside bool) {
	s.isr.Store(inside)
}

// Tasks returns the live tasks in creation order.
func (s *Sim) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskInfo, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.tasks[h])
	}
	return out
}

func (s *Sim) CurrentTask() TaskHandle {
	return TaskHandle(s.current.Load())
}

func (s *Sim) TaskInfo(h TaskHandle) (TaskInfo, bool) {
	s.mu.RLock()
	info, ok := s.tasks[h]
	s.mu.RUnlock()
	return info, ok
}

func (s *Sim) InsideInterrupt() bool {
	return s.isr.Load()
}

func (s *Sim) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Sim) SystemState(dst []TaskInfo) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(dst) < len(s.order) {
		return 0, fmt.Errorf("%d tasks, room for %d: %w", len(s.order), len(dst), ErrStateBufferTooSmall)
	}
	for i, h := range s.order {
		dst[i] = s.tasks[h]
	}
	return len(s.order), nil
}
