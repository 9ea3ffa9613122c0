package charge

import (
	"context"
	"sync"
	"time"
)

// memTxStore emulates WATCH/EXEC with a version counter bumped on every write.
type memTxStore struct {
	mu      sync.Mutex
	value   int64
	version uint64
	begins  int
	closes  int
	err     error
}

func (s *memTxStore) BeginWatch(ctx context.Context, key string) (TxSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.err != nil {
		return nil, s.err
	}
	return &memTxSession{store: s, watched: s.version}, nil
}

func (s *memTxStore) SetBalance(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.value = value
	s.version++
	return nil
}

func (s *memTxStore) balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

type memTxSession struct {
	store   *memTxStore
	watched uint64
}

func (s *memTxSession) ReadBalance(ctx context.Context) (int64, error) {
	return s.store.balance(), nil
}

func (s *memTxSession) CommitDecrement(ctx context.Context, amount int64) (int64, bool, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.version != s.watched {
		return 0, false, nil
	}
	s.store.value -= amount
	s.store.version++
	return s.store.value, true, nil
}

func (s *memTxSession) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.closes++
	return nil
}

// memCASStore hands out its version counter as the CAS token.
type memCASStore struct {
	mu      sync.Mutex
	value   int64
	exists  bool
	version uint64
	ttls    []time.Duration
	reads   int
	err     error
}

func (s *memCASStore) ReadWithToken(ctx context.Context, key string) (int64, Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return 0, nil, s.err
	}
	if !s.exists {
		return 0, nil, nil
	}
	return s.value, s.version, nil
}

func (s *memCASStore) CompareAndSwap(ctx context.Context, key string, value int64, token Token, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == nil {
		if s.exists {
			return false, nil
		}
	} else if !s.exists || token.(uint64) != s.version {
		return false, nil
	}
	s.write(value, ttl)
	return true, nil
}

func (s *memCASStore) SetBalance(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.write(value, ttl)
	return nil
}

func (s *memCASStore) write(value int64, ttl time.Duration) {
	s.value = value
	s.exists = true
	s.version++
	s.ttls = append(s.ttls, ttl)
}

func (s *memCASStore) balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}
