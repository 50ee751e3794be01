package locking

import (
	"context"
	"sync"
)

// KeyedMutex serializes holders of the same key inside one process.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex constructs a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free or ctx ends.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Lease, error) {
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
		return &mutexLease{owner: m, key: key, slot: s}, nil
	case <-ctx.Done():
		m.drop(key, s)
		return nil, ErrNotObtained
	}
}

// Held returns the number of keys with holders or waiters.
func (m *KeyedMutex) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *KeyedMutex) drop(key string, s *slot) {
	m.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
	m.mu.Unlock()
}

type mutexLease struct {
	once  sync.Once
	owner *KeyedMutex
	key   string
	slot  *slot
}

func (l *mutexLease) Release(ctx context.Context) error {
	_ = ctx
	l.once.Do(func() {
		<-l.slot.ch
		l.owner.drop(l.key, l.slot)
	})
	return nil
}
