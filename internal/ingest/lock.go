package ingest

import "sync/atomic"

// Lock is a non-blocking mutual exclusion flag. A second ingestion on the same
// Ingester fails fast instead of queueing behind the first.
type Lock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire reports whether the lock was acquired
func (l *Lock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Only the holder may call it.
func (l *Lock) Release() {
	l.state.Store(0)
}
