// Package tracer records kernel and user events into a pair of registries
// carved from one caller supplied buffer. While one registry (active)
// receives events, the other (pending) is either idle or being drained by
// the consumer. When the active registry fills up the roles are swapped and
// the filled registry is handed to the consumer together with a completion
// callback.
//
// A Tracer is not safe for concurrent use. Every call must be made inside
// the critical section matching the calling context (see package critical).
package tracer

import (
	"fmt"
	"sync/atomic"

	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/kernel"
	"github.com/tmykhalevych/event-tracer/pkg/message"
	"github.com/tmykhalevych/event-tracer/pkg/registry"
	"github.com/tmykhalevych/event-tracer/pkg/slab"
	"github.com/tmykhalevych/event-tracer/pkg/span"
)

const (
	// MinRegistryCapacity is the smallest registry size that does not get
	// reported as insufficient.
	MinRegistryCapacity = 20

	// DefaultMaxMessageLen is the slab size used when none is configured,
	// terminating zero included.
	DefaultMaxMessageLen = 16
)

var (
	errMessageLostExhausted = fmt.Errorf("%w: %w", domain.ErrMessageLost, domain.ErrPoolExhausted)
	errMessageLostNoPool    = fmt.Errorf("%w: no message pool configured", domain.ErrMessageLost)
)

// Settings configures a Tracer.
type Settings struct {
	// Buffer backs both registries and the message pool.
	Buffer span.Span[byte]
	// MessageSlabs is the number of message slabs cut from the front of
	// Buffer. Zero disables messages: they are replaced by the lost marker.
	MessageSlabs int
	// MaxMessageLen is the slab size, terminating zero included.
	MaxMessageLen int

	Kernel kernel.Kernel
	Clock  callback.Getter[uint64]

	// DataReady receives every filled registry. The consumer must call the
	// thunk exactly once when it is done reading.
	DataReady callback.Func2[*registry.Registry, callback.Thunk]
	// ErrorHook receives recoverable errors. Optional.
	ErrorHook callback.Func[error]
}

// Stats are running totals kept by the tracer.
type Stats struct {
	Recorded       uint64
	Rejected       uint64
	Batches        uint64
	DroppedBatches uint64
	DroppedEvents  uint64
	LostMessages   uint64
}

// Tracer is the double buffered event recorder.
type Tracer struct {
	settings Settings
	kernel   kernel.Kernel
	messages *slab.Allocator

	registries [2]*registry.Registry
	done       [2]callback.Thunk
	active     *registry.Registry
	pending    *registry.Registry

	firstTS uint64
	closed  bool

	recorded       atomic.Uint64
	rejected       atomic.Uint64
	batches        atomic.Uint64
	droppedBatches atomic.Uint64
	droppedEvents  atomic.Uint64
	lostMessages   atomic.Uint64
}

// New splits the buffer and starts both registries at the current time.
func New(settings Settings) *Tracer {
	if !settings.Buffer.Valid() {
		panic("tracer: empty trace buffer")
	}
	if !settings.DataReady.Valid() {
		panic("tracer: data ready callback is required")
	}
	if !settings.Clock.Valid() {
		panic("tracer: clock is required")
	}
	if settings.Kernel == nil {
		panic("tracer: kernel is required")
	}
	if settings.MaxMessageLen == 0 {
		settings.MaxMessageLen = DefaultMaxMessageLen
	}
	if settings.MessageSlabs > message.MaxSlabs {
		panic(fmt.Sprintf("tracer: %d message slabs exceed the handle range (%d)", settings.MessageSlabs, message.MaxSlabs))
	}

	t := &Tracer{settings: settings, kernel: settings.Kernel}

	storage := settings.Buffer
	if settings.MessageSlabs > 0 {
		var pool span.Span[byte]
		pool, storage = span.Cut[byte](storage, settings.MessageSlabs*settings.MaxMessageLen)
		t.messages = slab.New(pool, settings.MaxMessageLen)
	}

	first, second := span.Transform[domain.Event](span.Align[domain.Event](storage)).Bifurcate()
	if first.Len() < 2 {
		panic(fmt.Sprintf("tracer: buffer yields registries of %d events, need at least 2", first.Len()))
	}
	if first.Len() < MinRegistryCapacity {
		t.report(fmt.Errorf("%w: %d events per registry", domain.ErrBufferInsufficient, first.Len()))
	}

	t.registries = [2]*registry.Registry{registry.New(first), registry.New(second)}
	t.active, t.pending = t.registries[0], t.registries[1]
	t.firstTS = t.Now()

	ready := callback.Bind(t, (*Tracer).onRegistryReady)
	for i, r := range t.registries {
		r.SetReadyCallback(ready)
		r.SetStartTimestamp(t.firstTS)
		t.done[i] = callback.NewThunk(func() { t.NotifyDone(r) })
	}
	return t
}

// Now reads the configured clock.
func (t *Tracer) Now() uint64 {
	return t.settings.Clock.Call()
}

// StartTimestamp returns the epoch shared by both registries.
func (t *Tracer) StartTimestamp() uint64 {
	return t.firstTS
}

// Messages returns the pool interned messages live in, or nil when
// messages are disabled.
func (t *Tracer) Messages() *slab.Allocator {
	return t.messages
}

// RegistryCapacity returns the number of events each registry holds.
func (t *Tracer) RegistryCapacity() int {
	return t.active.Cap()
}

// Active returns the registry currently receiving events.
func (t *Tracer) Active() *registry.Registry {
	return t.active
}

// Pending returns the registry that is idle or being drained.
func (t *Tracer) Pending() *registry.Registry {
	return t.pending
}

// RegisterEvent records id for the running task at the current time.
func (t *Tracer) RegisterEvent(id domain.EventID) {
	t.RegisterTaskEventAt(id, t.kernel.CurrentTask(), t.Now())
}

// RegisterTaskEvent records id for task at the current time.
func (t *Tracer) RegisterTaskEvent(id domain.EventID, task kernel.TaskHandle) {
	t.RegisterTaskEventAt(id, task, t.Now())
}

// RegisterTaskEventAt records id for task with a timestamp taken by the
// caller. Task lifecycle events carry the task name, every other event the
// task priority. Without a task the event is marked as global.
func (t *Tracer) RegisterTaskEventAt(id domain.EventID, task kernel.TaskHandle, ts uint64) {
	if !t.admits(ts) {
		return
	}

	e := domain.Event{TS: ts, ID: id, Ctx: domain.MarkerContext(0, domain.MarkerGlobalScope)}

	info, ok := t.taskInfo(task)
	if ok {
		if id.NeedsMessage() {
			e.Ctx = t.intern(info.Number, info.Name)
		} else {
			e.Ctx = domain.PriorityContext(info.Number, info.Priority)
		}
	}

	t.add(e)
}

// RegisterUserEvent records a user event. status overrides the running
// task, which is how system state dumps attribute one event per task. A
// non empty msg is interned.
func (t *Tracer) RegisterUserEvent(id domain.UserEventID, msg string, status *kernel.TaskInfo) {
	if !id.Valid() {
		panic(fmt.Sprintf("tracer: invalid user event %d", id))
	}

	ts := t.Now()
	if !t.admits(ts) {
		return
	}

	var (
		info kernel.TaskInfo
		ok   bool
	)
	if status != nil {
		info, ok = *status, true
	} else {
		info, ok = t.taskInfo(t.kernel.CurrentTask())
	}

	e := domain.Event{TS: ts, ID: id.EventID()}
	switch {
	case msg != "":
		e.Ctx = t.intern(info.Number, msg)
	case ok:
		e.Ctx = domain.PriorityContext(info.Number, info.Priority)
	default:
		e.Ctx = domain.MarkerContext(0, domain.MarkerGlobalScope)
	}

	t.add(e)
}

// NotifyDone returns a drained registry to the pool. Messages still
// referenced by its events are released. Calling it for the active registry
// is a programming error.
func (t *Tracer) NotifyDone(r *registry.Registry) {
	if r == t.active {
		panic("tracer: done notified for the active registry")
	}
	t.release(r)
	r.Reset(false)
}

// Flush hands the active registry to the consumer even though it is not
// full yet.
func (t *Tracer) Flush() {
	if !t.active.Empty() {
		t.onRegistryReady(t.active)
	}
}

// Close flushes and stops recording. Events registered afterwards are
// ignored.
func (t *Tracer) Close() {
	if t.closed {
		return
	}
	t.Flush()
	t.closed = true
}

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (t *Tracer) Stats() Stats {
	return Stats{
		Recorded:       t.recorded.Load(),
		Rejected:       t.rejected.Load(),
		Batches:        t.batches.Load(),
		DroppedBatches: t.droppedBatches.Load(),
		DroppedEvents:  t.droppedEvents.Load(),
		LostMessages:   t.lostMessages.Load(),
	}
}

func (t *Tracer) onRegistryReady(filled *registry.Registry) {
	if !t.pending.Empty() {
		t.droppedBatches.Add(1)
		t.droppedEvents.Add(uint64(filled.Len()))
		t.release(filled)
		filled.Reset(false)
		t.report(domain.ErrConsumerTooSlow)
		return
	}

	t.active, t.pending = t.pending, t.active
	t.batches.Add(1)
	t.settings.DataReady.Call(t.pending, t.doneFor(t.pending))
}

func (t *Tracer) doneFor(r *registry.Registry) callback.Thunk {
	if r == t.registries[0] {
		return t.done[0]
	}
	return t.done[1]
}

func (t *Tracer) admits(ts uint64) bool {
	if t.closed || !t.active.Admits(ts) {
		t.rejected.Add(1)
		return false
	}
	return true
}

func (t *Tracer) taskInfo(task kernel.TaskHandle) (kernel.TaskInfo, bool) {
	if task == kernel.NoTask {
		return kernel.TaskInfo{}, false
	}
	return t.kernel.TaskInfo(task)
}

func (t *Tracer) intern(task domain.TaskID, text string) domain.Context {
	if t.messages == nil {
		t.lostMessages.Add(1)
		t.report(errMessageLostNoPool)
		return domain.MarkerContext(task, domain.MarkerMessageLost)
	}

	m, err := message.Create(text, t.messages)
	if err != nil {
		t.lostMessages.Add(1)
		t.report(errMessageLostExhausted)
		return domain.MarkerContext(task, domain.MarkerMessageLost)
	}
	return domain.MessageContext(task, m)
}

func (t *Tracer) add(e domain.Event) {
	if err := t.active.Add(e); err != nil {
		t.releaseEvent(e)
		t.report(err)
		return
	}
	t.recorded.Add(1)
}

func (t *Tracer) release(r *registry.Registry) {
	if t.messages == nil {
		return
	}
	for _, e := range r.Events() {
		t.releaseEvent(e)
	}
}

func (t *Tracer) releaseEvent(e domain.Event) {
	if m, ok := e.Ctx.Message(); ok && t.messages != nil {
		message.Destroy(m, t.messages)
	}
}

func (t *Tracer) report(err error) {
	if t.settings.ErrorHook.Valid() {
		t.settings.ErrorHook.Call(err)
	}
}
