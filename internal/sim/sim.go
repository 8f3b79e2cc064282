// Package sim drives the trace hooks from a simulated round-robin kernel.
// The scheduler plays the tick interrupt, an emitter goroutine plays the
// application task raising user events, and a manual clock advances one
// tick at a time so runs are reproducible.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/hooks"
	"github.com/tmykhalevych/event-tracer/pkg/kernel"
)

// TaskSpec describes a simulated task.
type TaskSpec struct {
	Name     string
	Priority domain.Priority
}

// DefaultTasks is an idle task and two application tasks.
var DefaultTasks = []TaskSpec{
	{Name: "IDLE", Priority: 0},
	{Name: "blinky", Priority: 2},
	{Name: "sensor", Priority: 3},
}

// Emitter raises user events. *client.Client implements it.
type Emitter interface {
	Emit(id domain.UserEventID, msg string) error
}

// Config configures a Simulator
type Config struct {
	Tasks []TaskSpec
	// Ticks is the length of the run (default: 100)
	Ticks int
	// TickDuration is the clock advance per tick (default: 1000)
	TickDuration uint64
	// SliceTicks is the round-robin time slice (default: 1)
	SliceTicks int
	// MessageEvery emits a MESSAGE user event every N ticks. Zero disables.
	MessageEvery int
	// AllocEvery records a MALLOC/FREE pair every N ticks. Zero disables.
	AllocEvery int
	// TickInterval paces the run in wall time. Zero runs as fast as possible.
	TickInterval time.Duration
	// TraceTicks records TICK_COUNT_INCREASE events
	TraceTicks bool

	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if len(c.Tasks) == 0 {
		c.Tasks = DefaultTasks
	}
	if c.Ticks == 0 {
		c.Ticks = 100
	}
	if c.TickDuration == 0 {
		c.TickDuration = 1000
	}
	if c.SliceTicks == 0 {
		c.SliceTicks = 1
	}
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Ticks    int
	Switches int
	Messages int
	Allocs   int
}

// Simulator owns the simulated kernel and its clock.
type Simulator struct {
	cfg    Config
	logger *zap.Logger
	runID  string

	kernel *kernel.Sim
	now    atomic.Uint64
}

type emitRequest struct {
	id   domain.UserEventID
	msg  string
	done chan struct{}
}

// New creates a simulator. The kernel and the clock must be handed to the
// tracer before Run.
func New(cfg Config) (*Simulator, error) {
	cfg.setDefaults()
	if cfg.Ticks < 0 || cfg.SliceTicks < 0 || cfg.MessageEvery < 0 || cfg.AllocEvery < 0 {
		return nil, errors.New("simulation counts cannot be negative")
	}

	s := &Simulator{
		cfg:    cfg,
		runID:  uuid.New().String(),
		kernel: kernel.NewSim(),
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("run_id", s.runID))
	return s, nil
}

// Kernel returns the simulated kernel.
func (s *Simulator) Kernel() *kernel.Sim { return s.kernel }

// Clock returns the manual clock, one TickDuration per tick.
func (s *Simulator) Clock() callback.Getter[uint64] {
	return callback.NewGetter(s.now.Load)
}

// RunID identifies the run in logs.
func (s *Simulator) RunID() string { return s.runID }

// Run creates the tasks, captures Ticks ticks of round-robin scheduling and
// deletes the tasks again. User events go through emitter on a separate
// goroutine; the scheduler waits for each one so the trace is reproducible.
func (s *Simulator) Run(ctx context.Context, h *hooks.Hooks, emitter Emitter) (*Result, error) {
	if h == nil || emitter == nil {
		return nil, errors.New("hooks and emitter are required")
	}
	h.TraceTicks = s.cfg.TraceTicks

	requests := make(chan emitRequest)
	result := &Result{RunID: s.runID}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case req, ok := <-requests:
				if !ok {
					return nil
				}
				if err := emitter.Emit(req.id, req.msg); err != nil {
					s.logger.Warn("User event not recorded",
						zap.Stringer("event", req.id),
						zap.Error(err))
				}
				close(req.done)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		defer close(requests)
		return s.schedule(ctx, h, requests, result)
	})

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("simulation %s aborted: %w", s.runID, err)
	}

	s.logger.Info("Simulation completed",
		zap.Int("ticks", result.Ticks),
		zap.Int("switches", result.Switches),
		zap.Int("messages", result.Messages))
	return result, nil
}

func (s *Simulator) schedule(ctx context.Context, h *hooks.Hooks, requests chan<- emitRequest, result *Result) error {
	emit := func(id domain.UserEventID, msg string) error {
		req := emitRequest{id: id, msg: msg, done: make(chan struct{})}
		select {
		case requests <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-req.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tasks := make([]kernel.TaskHandle, 0, len(s.cfg.Tasks))
	for _, spec := range s.cfg.Tasks {
		handle := s.kernel.CreateTask(spec.Name, spec.Priority)
		h.TaskCreate(handle)
		tasks = append(tasks, handle)
	}
	defer func() {
		for _, handle := range tasks {
			h.TaskDelete(handle)
			_ = s.kernel.DeleteTask(handle)
		}
	}()

	s.switchTo(h, tasks[0])
	result.Switches++
	if err := emit(domain.UserStartCapturing, ""); err != nil {
		return err
	}

	var pace <-chan time.Time
	if s.cfg.TickInterval > 0 {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		pace = ticker.C
	}

	current := 0
	for tick := 1; tick <= s.cfg.Ticks; tick++ {
		if pace != nil {
			select {
			case <-pace:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		s.now.Add(s.cfg.TickDuration)
		s.tick(h, uint64(tick))
		result.Ticks++

		if tick%s.cfg.SliceTicks == 0 {
			current = (current + 1) % len(tasks)
			s.switchTo(h, tasks[current])
			result.Switches++
		}

		if s.cfg.AllocEvery > 0 && tick%s.cfg.AllocEvery == 0 {
			addr := uintptr(0x2001_0000 + tick*0x40)
			h.Malloc(addr, 32)
			h.Free(addr, 32)
			result.Allocs++
		}

		if s.cfg.MessageEvery > 0 && tick%s.cfg.MessageEvery == 0 {
			if err := emit(domain.UserMessage, fmt.Sprintf("tick %d", tick)); err != nil {
				return err
			}
			result.Messages++
		}
	}

	return emit(domain.UserStopCapturing, "")
}

func (s *Simulator) tick(h *hooks.Hooks, count uint64) {
	s.kernel.SetInsideInterrupt(true)
	h.SystemTick(count)
	s.kernel.SetInsideInterrupt(false)
}

func (s *Simulator) switchTo(h *hooks.Hooks, task kernel.TaskHandle) {
	// Sim.Switch only fails for unknown handles and every handle here was
	// just created.
	_ = s.kernel.Switch(task)

	s.kernel.SetInsideInterrupt(true)
	h.TaskSwitchedIn(task)
	s.kernel.SetInsideInterrupt(false)
}
