package concurrency

import (
	"errors"
	"sync"
)

var ErrBusy = errors.New("System is busy!")

// ConcurrencyGuard admits one holder at a time and turns everyone else away
// with ErrBusy instead of making them wait.
type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

// TryAcquire takes the guard, or returns ErrBusy if it is already held.
func (g *ConcurrencyGuard) TryAcquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isBusy {
		return ErrBusy
	}
	g.isBusy = true
	return nil
}

// Release frees the guard. Releasing a free guard is a no-op.
func (g *ConcurrencyGuard) Release() {
	g.mu.Lock()
	g.isBusy = false
	g.mu.Unlock()
}

// Busy reports whether the guard is held.
func (g *ConcurrencyGuard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isBusy
}

// Execute runs task while holding the guard.
func (g *ConcurrencyGuard) Execute(task func() error) error {
	if err := g.TryAcquire(); err != nil {
		return err
	}
	defer g.Release()
	return task()
}
