// Package lock provides named in-process locks for resources shared by
// concurrent operations, such as the package manager's temporary execution
// cache or a single tool's install/remediation sequence.
package lock

import (
	"context"
	"sync"
)

// Shared resource names.
const (
	NpxCache = "npx-cache"
)

// Set is a collection of named locks. The zero value is ready to use.
type Set struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func (s *Set) slot(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = map[string]chan struct{}{}
	}
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// func releases it.
func (s *Set) Acquire(ctx context.Context, key string) (func(), error) {
	ch := s.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
