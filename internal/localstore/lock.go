package localstore

import "context"

// Lock serializes read-modify-write sequences on local data across the
// components of one device. Unlike sync.Mutex, waiting honors ctx.
type Lock struct {
	ch chan struct{}
}

// NewLock returns an unlocked Lock.
func NewLock() *Lock {
	return &Lock{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release unlocks l. Calling it on an unlocked Lock panics.
func (l *Lock) Release() {
	select {
	case <-l.ch:
	default:
		panic("localstore: release of unlocked Lock")
	}
}
