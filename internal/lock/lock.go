// Package lock serialises work on a single key, such as all transfers
// spending from one agent's account.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when a release finds the lock already gone, for
// example after a distributed lease expired.
var ErrNotHeld = errors.New("lock: not held")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker grants exclusive access to a key until the returned Unlock runs.
// Lock blocks until the key is free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

var _ Locker = (*Memory)(nil)

// Memory is an in-process Locker. Entries are reference counted so idle
// keys do not accumulate.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an in-process Locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

// Lock implements Locker.
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		err := ErrNotHeld
		once.Do(func() {
			<-s.ch
			m.drop(key, s)
			err = nil
		})
		return err
	}, nil
}

func (m *Memory) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
