package lock

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// Local is an in-process keyed lock. It serializes callers within a single
// process and is meant for sqlite and single-instance deployments.
type Local struct {
	mu    sync.Mutex
	slots map[Key]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[Key]*slot)}
}

func (l *Local) Acquire(ctx context.Context, _ *gorm.DB, key Key) (func(), error) {
	if _, err := key.Domain.class(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.put(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.put(key, s)
		return nil, fmt.Errorf("failed to acquire %s: %w", key, ctx.Err())
	}
}

func (l *Local) put(key Key, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many callers hold or wait for key.
func (l *Local) held(key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		return s.refs
	}
	return 0
}
