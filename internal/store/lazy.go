package store

import (
	"errors"
	"sync"
)

// LazySnapshot emulates a snapshot for engines that cannot hold one open
// safely. Each key is read from the live store the first time it is asked
// for and the answer (including absence) is cached, so later reads of that
// key are unaffected by writes. Callers must read a key before mutating it.
type LazySnapshot struct {
	src Reader

	mu     sync.Mutex
	seen   map[string]cachedValue
	closed bool
}

type cachedValue struct {
	value   []byte
	present bool
}

// NewLazySnapshot returns a per-key capturing view over src.
func NewLazySnapshot(src Reader) *LazySnapshot {
	return &LazySnapshot{
		src:  src,
		seen: make(map[string]cachedValue),
	}
}

func (s *LazySnapshot) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, invalidState("snapshot is closed")
	}
	if c, ok := s.seen[string(key)]; ok {
		if !c.present {
			return nil, ErrNotFound
		}
		return CloneValue(c.value), nil
	}

	v, err := s.src.Get(key)
	switch {
	case err == nil:
		s.seen[string(key)] = cachedValue{value: CloneValue(v), present: true}
		return v, nil
	case errors.Is(err, ErrNotFound):
		s.seen[string(key)] = cachedValue{}
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (s *LazySnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.seen = nil
	return nil
}
