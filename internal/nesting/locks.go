package nesting

import "sync"

// runLocks hands out one mutex per run so allocations on the same run are
// serialised while different runs proceed in parallel.
type runLocks struct {
	mu    sync.Mutex
	locks map[uint]*runLock
}

type runLock struct {
	sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[uint]*runLock)}
}

// Lock blocks until the run is free and returns the matching unlock.
func (l *runLocks) Lock(runID uint) func() {
	l.mu.Lock()
	lk, ok := l.locks[runID]
	if !ok {
		lk = &runLock{}
		l.locks[runID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, runID)
		}
		l.mu.Unlock()
	}
}

func (l *runLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
