// Package critical wraps the kernel's critical section primitives into
// lockers usable with defer. Two distinct types exist on purpose: Interrupts
// must only be taken from task context and ISRPreemption only from
// interrupt context, and the compiler keeps them apart.
package critical

import "sync"

// Port is the kernel side of the critical section contract.
type Port interface {
	// EnterCritical disables interrupts from task context.
	EnterCritical()
	ExitCritical()
	// EnterCriticalFromISR masks interrupts from an ISR and returns the
	// previous mask, to be handed back to ExitCriticalFromISR.
	EnterCriticalFromISR() uint32
	ExitCriticalFromISR(saved uint32)
}

// TryPort is implemented by ports able to fail entering a critical section.
type TryPort interface {
	Port
	TryEnterCritical() bool
}

var (
	_ sync.Locker = (*Interrupts)(nil)
	_ sync.Locker = (*ISRPreemption)(nil)
)

// Interrupts is the task level critical section.
type Interrupts struct {
	port Port
}

// NewInterrupts returns a task level lock over port.
func NewInterrupts(port Port) *Interrupts {
	if port == nil {
		panic("critical: nil port")
	}
	return &Interrupts{port: port}
}

func (l *Interrupts) Lock()   { l.port.EnterCritical() }
func (l *Interrupts) Unlock() { l.port.ExitCritical() }

// TryLock enters the critical section if the port allows it. Ports that
// cannot fail always succeed.
func (l *Interrupts) TryLock() bool {
	if tp, ok := l.port.(TryPort); ok {
		return tp.TryEnterCritical()
	}
	l.Lock()
	return true
}

// ISRPreemption is the interrupt level critical section. It keeps the
// saved mask between Lock and Unlock, so one value serves one interrupt
// priority level.
type ISRPreemption struct {
	port  Port
	saved uint32
}

// NewISRPreemption returns an interrupt level lock over port.
func NewISRPreemption(port Port) *ISRPreemption {
	if port == nil {
		panic("critical: nil port")
	}
	return &ISRPreemption{port: port}
}

func (l *ISRPreemption) Lock() {
	saved := l.port.EnterCriticalFromISR()
	l.saved = saved
}

func (l *ISRPreemption) Unlock() {
	saved := l.saved
	l.saved = 0
	l.port.ExitCriticalFromISR(saved)
}

// TryLock never fails: masking from an ISR cannot be refused.
func (l *ISRPreemption) TryLock() bool {
	l.Lock()
	return true
}
