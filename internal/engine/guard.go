package engine

import "sync/atomic"

// CycleGuard enforces at-most-one-active full-sync cycle. A trigger that
// fires while a cycle is running is rejected with ErrCycleRunning rather
// than queued, so slow APIs cannot stack cycles.
type CycleGuard struct {
	active atomic.Bool
}

// NewCycleGuard returns an idle guard.
func NewCycleGuard() *CycleGuard { return &CycleGuard{} }

// TryAcquire claims the cycle slot. On success the returned release
// function must run on every exit path; calling it more than once is safe
// because the guard only flips from active to idle.
func (g *CycleGuard) TryAcquire() (release func(), err error) {
	if !g.active.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	return func() { g.active.Store(false) }, nil
}

// Active reports whether a cycle currently holds the guard.
func (g *CycleGuard) Active() bool { return g.active.Load() }
