package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/kernel"
	"github.com/tmykhalevych/event-tracer/pkg/message"
	"github.com/tmykhalevych/event-tracer/pkg/registry"
	"github.com/tmykhalevych/event-tracer/pkg/span"
)

type mockKernel struct {
	mock.Mock
}

func (m *mockKernel) CurrentTask() kernel.TaskHandle {
	return m.Called().Get(0).(kernel.TaskHandle)
}

func (m *mockKernel) TaskInfo(task kernel.TaskHandle) (kernel.TaskInfo, bool) {
	args := m.Called(task)
	return args.Get(0).(kernel.TaskInfo), args.Bool(1)
}

func (m *mockKernel) InsideInterrupt() bool {
	return m.Called().Bool(0)
}

const messageLen = 16

// buffer returns an event aligned byte buffer holding the given number of
// events and message slabs.
func buffer(events, slabs int) span.Span[byte] {
	words := events + slabs*messageLen/eventSize
	return span.Transform[byte](span.New(make([]domain.Event, words)))
}

const eventSize = 16

type fixture struct {
	now     uint64
	tracer  *Tracer
	batches []*registry.Registry
	dones   []callback.Thunk
	errs    []error
}

func newFixture(t *testing.T, k kernel.Kernel, perRegistry, slabs int) *fixture {
	t.Helper()
	f := &fixture{now: 100}
	f.tracer = New(Settings{
		Buffer:        buffer(2*perRegistry, slabs),
		MessageSlabs:  slabs,
		MaxMessageLen: messageLen,
		Kernel:        k,
		Clock:         callback.NewGetter(func() uint64 { return f.now }),
		DataReady: callback.New2(func(r *registry.Registry, done callback.Thunk) {
			f.batches = append(f.batches, r)
			f.dones = append(f.dones, done)
		}),
		ErrorHook: callback.New(func(err error) { f.errs = append(f.errs, err) }),
	})
	return f
}

func (f *fixture) feed(n int) {
	for i := 0; i < n; i++ {
		f.now++
		f.tracer.RegisterTaskEventAt(domain.EventMalloc, kernel.NoTask, f.now)
	}
}

func simWithWorker() (*kernel.Sim, kernel.TaskHandle) {
	k := kernel.NewSim()
	k.CreateTask("IDLE", 0)
	h := k.CreateTask("worker", 4)
	return k, h
}

func TestNewSplitsBuffer(t *testing.T) {
	k, _ := simWithWorker()
	f := newFixture(t, k, 32, 8)

	assert.Equal(t, 32, f.tracer.RegistryCapacity())
	assert.Equal(t, 32, f.tracer.Pending().Cap())
	require.NotNil(t, f.tracer.Messages())
	assert.Equal(t, 8, f.tracer.Messages().Capacity())
	assert.Equal(t, uint64(100), f.tracer.StartTimestamp())
	assert.Empty(t, f.errs)

	for _, r := range []*registry.Registry{f.tracer.Active(), f.tracer.Pending()} {
		epoch, ok := r.StartTimestamp()
		require.True(t, ok)
		assert.Equal(t, uint64(100), epoch, "registries share the tracer epoch")
	}
}

func TestNewReportsInsufficientBuffer(t *testing.T) {
	k, _ := simWithWorker()
	f := newFixture(t, k, 5, 0)

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], domain.ErrBufferInsufficient)
	assert.Nil(t, f.tracer.Messages())
}

func TestNewPanicsOnInvalidSettings(t *testing.T) {
	k := kernel.NewSim()
	clock := callback.NewGetter(func() uint64 { return 0 })
	ready := callback.New2(func(*registry.Registry, callback.Thunk) {})

	tests := []struct {
		name     string
		settings Settings
	}{
		{"empty buffer", Settings{Kernel: k, Clock: clock, DataReady: ready}},
		{"no consumer", Settings{Buffer: buffer(64, 0), Kernel: k, Clock: clock}},
		{"no clock", Settings{Buffer: buffer(64, 0), Kernel: k, DataReady: ready}},
		{"no kernel", Settings{Buffer: buffer(64, 0), Clock: clock, DataReady: ready}},
		{"single event registries", Settings{Buffer: buffer(3, 0), Kernel: k, Clock: clock, DataReady: ready}},
		{"pool eats the buffer", Settings{Buffer: buffer(4, 4), MessageSlabs: 8, MaxMessageLen: messageLen, Kernel: k, Clock: clock, DataReady: ready}},
		{"pool beyond handle range", Settings{Buffer: buffer(64, message.MaxSlabs+1), MessageSlabs: message.MaxSlabs + 1, MaxMessageLen: messageLen, Kernel: k, Clock: clock, DataReady: ready}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { New(tt.settings) })
		})
	}
}

func TestRegisterEventContexts(t *testing.T) {
	k := &mockKernel{}
	worker := kernel.TaskHandle(0x2000)
	k.On("CurrentTask").Return(worker)
	k.On("TaskInfo", worker).Return(kernel.TaskInfo{Handle: worker, Name: "worker", Priority: 4, Number: 2}, true)

	f := newFixture(t, k, 32, 4)
	f.now = 110
	f.tracer.RegisterEvent(domain.EventMalloc)
	f.tracer.RegisterTaskEvent(domain.EventTaskCreate, worker)
	f.tracer.RegisterTaskEventAt(domain.EventFree, kernel.NoTask, 120)

	events := f.tracer.Active().Events()
	require.Len(t, events, 3)

	assert.Equal(t, uint64(10), events[0].TS)
	assert.Equal(t, domain.EventMalloc, events[0].ID)
	prio, ok := events[0].Ctx.Priority()
	require.True(t, ok)
	assert.Equal(t, domain.Priority(4), prio)
	assert.Equal(t, domain.TaskID(2), events[0].Ctx.Task)

	msg, ok := events[1].Ctx.Message()
	require.True(t, ok, "task lifecycle events carry the task name")
	assert.Equal(t, "worker", msg.String(f.tracer.Messages()))
	assert.Equal(t, domain.TaskID(2), events[1].Ctx.Task)

	marker, ok := events[2].Ctx.Marker()
	require.True(t, ok)
	assert.Equal(t, domain.MarkerGlobalScope, marker)
	assert.Equal(t, uint64(20), events[2].TS)

	assert.Empty(t, f.errs)
	k.AssertExpectations(t)
}

func TestUnknownTaskIsGlobal(t *testing.T) {
	k := &mockKernel{}
	k.On("TaskInfo", kernel.TaskHandle(0x99)).Return(kernel.TaskInfo{}, false)

	f := newFixture(t, k, 32, 4)
	f.tracer.RegisterTaskEventAt(domain.EventTaskCreate, 0x99, 101)

	marker, ok := f.tracer.Active().Events()[0].Ctx.Marker()
	require.True(t, ok)
	assert.Equal(t, domain.MarkerGlobalScope, marker)
	assert.Equal(t, 4, f.tracer.Messages().Free(), "no message interned for an unknown task")
}

func TestRegisterUserEvent(t *testing.T) {
	k, worker := simWithWorker()
	require.NoError(t, k.Switch(worker))
	f := newFixture(t, k, 32, 4)

	f.now = 105
	f.tracer.RegisterUserEvent(domain.UserStartCapturing, "", nil)
	f.tracer.RegisterUserEvent(domain.UserMessage, "hello", nil)
	f.tracer.RegisterUserEvent(domain.UserDumpSystemState, "IDLE", &kernel.TaskInfo{Name: "IDLE", Number: 1})

	events := f.tracer.Active().Events()
	require.Len(t, events, 3)

	assert.Equal(t, domain.UserStartCapturing.EventID(), events[0].ID)
	prio, ok := events[0].Ctx.Priority()
	require.True(t, ok)
	assert.Equal(t, domain.Priority(4), prio)

	msg, ok := events[1].Ctx.Message()
	require.True(t, ok)
	assert.Equal(t, "hello", msg.String(f.tracer.Messages()))
	assert.Equal(t, domain.TaskID(2), events[1].Ctx.Task)

	msg, ok = events[2].Ctx.Message()
	require.True(t, ok)
	assert.Equal(t, "IDLE", msg.String(f.tracer.Messages()))
	assert.Equal(t, domain.TaskID(1), events[2].Ctx.Task, "status overrides the running task")

	assert.Panics(t, func() { f.tracer.RegisterUserEvent(domain.UserEventUndefined, "", nil) })
}

func TestRegisterUserEventWithoutTask(t *testing.T) {
	f := newFixture(t, kernel.NewSim(), 32, 4)
	f.tracer.RegisterUserEvent(domain.UserStopCapturing, "", nil)

	marker, ok := f.tracer.Active().Events()[0].Ctx.Marker()
	require.True(t, ok)
	assert.Equal(t, domain.MarkerGlobalScope, marker)
}

func TestSwapHandsFilledRegistryToConsumer(t *testing.T) {
	f := newFixture(t, kernel.NewSim(), 5, 0)
	first := f.tracer.Active()

	f.feed(4)
	assert.Empty(t, f.batches)

	f.feed(1)
	require.Len(t, f.batches, 1)
	assert.Same(t, first, f.batches[0])
	assert.Same(t, first, f.tracer.Pending())
	assert.NotSame(t, first, f.tracer.Active())
	assert.True(t, f.tracer.Active().Empty())
	assert.Equal(t, 5, first.Len())

	f.dones[0].Call()
	assert.True(t, first.Empty())

	f.feed(5)
	require.Len(t, f.batches, 2)
	assert.Same(t, first, f.tracer.Active(), "roles swap back")
	assert.Equal(t, uint64(2), f.tracer.Stats().Batches)
}

func TestExactlyOneActiveRegistry(t *testing.T) {
	f := newFixture(t, kernel.NewSim(), 3, 0)
	seen := map[*registry.Registry]bool{}

	for round := 0; round < 20; round++ {
		f.feed(1)
		active, pending := f.tracer.Active(), f.tracer.Pending()
		require.NotSame(t, active, pending)
		seen[active] = true

		if len(f.dones) > 0 && round%4 == 0 {
			for _, done := range f.dones {
				done.Call()
			}
			f.dones = f.dones[:0]
		}
	}
	assert.Len(t, seen, 2)
}

// A registry that fills while the previous batch is still pending is dropped.
func TestBackpressureDropsNewBatch(t *testing.T) {
	f := newFixture(t, kernel.NewSim(), 5, 0)
	f.errs = nil

	f.feed(5)
	require.Len(t, f.batches, 1)
	delivered := f.batches[0]
	snapshot := append([]domain.Event(nil), delivered.Events()...)
	active := f.tracer.Active()

	f.feed(5)
	require.Len(t, f.batches, 1, "no second delivery while the consumer is busy")
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], domain.ErrConsumerTooSlow)
	assert.True(t, active.Empty(), "second batch is discarded")
	assert.Same(t, active, f.tracer.Active(), "tracer keeps the same active registry")
	assert.Equal(t, snapshot, delivered.Events(), "pending batch is untouched")

	stats := f.tracer.Stats()
	assert.Equal(t, uint64(1), stats.DroppedBatches)
	assert.Equal(t, uint64(5), stats.DroppedEvents)
	assert.Equal(t, uint64(10), stats.Recorded)

	f.dones[0].Call()
	f.feed(5)
	assert.Len(t, f.batches, 2)
}

func TestDroppedBatchReleasesMessages(t *testing.T) {
	k, worker := simWithWorker()
	f := newFixture(t, k, 4, 8)
	f.errs = nil

	for i := 0; i < 4; i++ {
		f.now++
		f.tracer.RegisterTaskEventAt(domain.EventTaskCreate, worker, f.now)
	}
	require.Len(t, f.batches, 1)
	assert.Equal(t, 4, f.tracer.Messages().Free())

	for i := 0; i < 4; i++ {
		f.now++
		f.tracer.RegisterTaskEventAt(domain.EventTaskDelete, worker, f.now)
	}
	require.Len(t, f.errs, 1)
	assert.Equal(t, 4, f.tracer.Messages().Free(), "messages of the dropped batch are back in the pool")

	f.dones[0].Call()
	assert.Equal(t, 8, f.tracer.Messages().Free())
}

func TestNotifyDoneOnActiveRegistryPanics(t *testing.T) {
	f := newFixture(t, kernel.NewSim(), 4, 0)
	assert.Panics(t, func() { f.tracer.NotifyDone(f.tracer.Active()) })
}

func TestSynchronousDoneFromConsumer(t *testing.T) {
	var tr *Tracer
	now := uint64(0)
	delivered := 0
	tr = New(Settings{
		Buffer: buffer(8, 0),
		Kernel: kernel.NewSim(),
		Clock:  callback.NewGetter(func() uint64 { return now }),
		DataReady: callback.New2(func(r *registry.Registry, done callback.Thunk) {
			delivered += r.Len()
			done.Call()
		}),
	})

	for i := 0; i < 40; i++ {
		now++
		tr.RegisterTaskEventAt(domain.EventFree, kernel.NoTask, now)
	}
	assert.Equal(t, 40, delivered)
	assert.Zero(t, tr.Stats().DroppedBatches)
}

func TestMessageLostOnExhaustedPool(t *testing.T) {
	k, worker := simWithWorker()
	f := newFixture(t, k, 32, 1)

	f.tracer.RegisterTaskEventAt(domain.EventTaskCreate, worker, 101)
	f.tracer.RegisterTaskEventAt(domain.EventTaskCreate, worker, 102)

	events := f.tracer.Active().Events()
	require.Len(t, events, 2, "event is recorded even when its message is lost")
	marker, ok := events[1].Ctx.Marker()
	require.True(t, ok)
	assert.Equal(t, domain.MarkerMessageLost, marker)
	assert.Equal(t, domain.TaskID(2), events[1].Ctx.Task)

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], domain.ErrMessageLost)
	assert.ErrorIs(t, f.errs[0], domain.ErrPoolExhausted)
	assert.Equal(t, uint64(1), f.tracer.Stats().LostMessages)
}

func TestMessageLostWithoutPool(t *testing.T) {
	k, worker := simWithWorker()
	f := newFixture(t, k, 32, 0)

	f.tracer.RegisterTaskEventAt(domain.EventTaskDelete, worker, 101)

	marker, ok := f.tracer.Active().Events()[0].Ctx.Marker()
	require.True(t, ok)
	assert.Equal(t, domain.MarkerMessageLost, marker)
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], domain.ErrMessageLost)
}

func TestLateEventDoesNotInternMessage(t *testing.T) {
	k, worker := simWithWorker()
	f := newFixture(t, k, 32, 2)

	f.tracer.RegisterTaskEventAt(domain.EventTaskCreate, worker, 50)

	assert.True(t, f.tracer.Active().Empty())
	assert.Equal(t, 2, f.tracer.Messages().Free())
	assert.Equal(t, uint64(1), f.tracer.Stats().Rejected)
}

func TestFlushAndClose(t *testing.T) {
	f := newFixture(t, kernel.NewSim(), 8, 0)
	f.feed(3)

	f.tracer.Close()
	require.Len(t, f.batches, 1)
	assert.Equal(t, 3, f.batches[0].Len())

	f.feed(3)
	assert.True(t, f.tracer.Active().Empty(), "closed tracer ignores events")

	f.dones[0].Call()
	f.tracer.Close()
	assert.Len(t, f.batches, 1)
}

func TestRegisterEventDoesNotAllocate(t *testing.T) {
	k, worker := simWithWorker()
	require.NoError(t, k.Switch(worker))

	now := uint64(0)
	tr := New(Settings{
		Buffer: buffer(256, 0),
		Kernel: k,
		Clock:  callback.NewGetter(func() uint64 { now++; return now }),
		DataReady: callback.New2(func(_ *registry.Registry, done callback.Thunk) {
			done.Call()
		}),
	})

	allocs := testing.AllocsPerRun(1000, func() {
		tr.RegisterEvent(domain.EventMalloc)
	})
	assert.Zero(t, allocs)
}

func TestProcessWideInstance(t *testing.T) {
	t.Cleanup(Reset)

	assert.Nil(t, Instance())
	assert.Panics(t, func() { Get() })

	settings := Settings{
		Buffer:    buffer(64, 0),
		Kernel:    kernel.NewSim(),
		Clock:     callback.NewGetter(func() uint64 { return 1 }),
		DataReady: callback.New2(func(*registry.Registry, callback.Thunk) {}),
	}
	tr := Init(settings)
	assert.Same(t, tr, Instance())
	assert.Same(t, tr, Get())
	assert.Panics(t, func() { Init(settings) })

	Reset()
	assert.Nil(t, Instance())
	Reset()
}

func BenchmarkRegisterEvent(b *testing.B) {
	k, worker := simWithWorker()
	_ = k.Switch(worker)

	now := uint64(0)
	tr := New(Settings{
		Buffer: buffer(4096, 0),
		Kernel: k,
		Clock:  callback.NewGetter(func() uint64 { now++; return now }),
		DataReady: callback.New2(func(_ *registry.Registry, done callback.Thunk) {
			done.Call()
		}),
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.RegisterEvent(domain.EventMalloc)
	}
}
