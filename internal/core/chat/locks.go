package chat

import (
	"context"
	"sync"
)

// turnLocks serializes turns per conversation id. Entries are dropped when the
// last holder or waiter leaves.
type turnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	ch   chan struct{}
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[string]*turnLock)}
}

// acquire blocks until id is free or ctx ends. The returned func releases the lock.
func (l *turnLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &turnLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		return func() {
			<-lk.ch
			l.release(id, lk)
		}, nil
	case <-ctx.Done():
		l.release(id, lk)
		return nil, ctx.Err()
	}
}

func (l *turnLocks) release(id string, lk *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}
