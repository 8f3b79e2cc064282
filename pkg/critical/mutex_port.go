package critical

import (
	"sync"
	"sync/atomic"
)

// MutexPort emulates a single core kernel on a hosted platform: both task
// and interrupt critical sections take the same mutex. Nesting is not
// supported.
type MutexPort struct {
	mu     sync.Mutex
	masked atomic.Uint32
	enters atomic.Uint64
}

var _ TryPort = (*MutexPort)(nil)

// NewMutexPort returns an unlocked port.
func NewMutexPort() *MutexPort {
	return &MutexPort{}
}

func (p *MutexPort) EnterCritical() {
	p.mu.Lock()
	p.enter()
}

func (p *MutexPort) ExitCritical() {
	p.masked.Store(0)
	p.mu.Unlock()
}

func (p *MutexPort) TryEnterCritical() bool {
	if !p.mu.TryLock() {
		return false
	}
	p.enter()
	return true
}

func (p *MutexPort) EnterCriticalFromISR() uint32 {
	p.mu.Lock()
	p.enters.Add(1)
	return p.masked.Swap(1)
}

func (p *MutexPort) ExitCriticalFromISR(saved uint32) {
	p.masked.Store(saved)
	p.mu.Unlock()
}

// Masked reports whether a critical section is currently held.
func (p *MutexPort) Masked() bool {
	return p.masked.Load() != 0
}

// Entries returns how many times a critical section was entered.
func (p *MutexPort) Entries() uint64 {
	return p.enters.Load()
}

func (p *MutexPort) enter() {
	p.masked.Store(1)
	p.enters.Add(1)
}
