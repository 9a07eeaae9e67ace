// Package keylock provides a table of independent exclusive locks keyed by
// string.  Locks on different keys never contend with each other, and every
// acquisition has a bounded wait.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait.
var ErrTimeout = errors.New("keylock: timed out waiting for lock")

type entry struct {
	sem  chan struct{}
	refs int
}

// Table is a set of per-key mutexes.  Entries are created on first use and
// dropped once no goroutine holds or waits for them, so the table does not
// grow with the number of distinct keys ever seen.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held, ctx is done, or wait
// elapses.  A wait <= 0 means "bounded by ctx only".  The returned release
// func must be called exactly once.
func (t *Table) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	e := t.ref(key)

	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.unref(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.unref(key)
		})
	}, nil
}

// Len reports how many keys currently have holders or waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) ref(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}
