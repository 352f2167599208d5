package session

import (
	"context"
	"sync"
)

// lockEntry holds a per-light lock and a reference count so the entry can be
// removed from the map when no goroutine is using or waiting on it.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// lightLocks provides per-light mutual exclusion. Unlike sync.Mutex, waiting
// for a lock can be abandoned when the caller's context is done.
type lightLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newLightLocks() *lightLocks {
	return &lightLocks{locks: make(map[string]*lockEntry)}
}

// lock blocks until the light's lock is held or ctx is done.
func (l *lightLocks) lock(ctx context.Context, lightID string) (unlock func(), err error) {
	l.mu.Lock()
	e, ok := l.locks[lightID]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[lightID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(lightID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(lightID, e)
		})
	}, nil
}

func (l *lightLocks) release(lightID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, lightID)
	}
}

func (l *lightLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
