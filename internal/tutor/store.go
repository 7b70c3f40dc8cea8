package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/p-n-ai/pai-tutor/internal/platform/cache"
)

// SessionStore keeps session states between requests, keyed by session key.
// Load returns a fresh Idle state for an unknown key.
type SessionStore interface {
	Load(ctx context.Context, key string) (State, error)
	Save(ctx context.Context, state State) error
	Delete(ctx context.Context, key string) error
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]State)}
}

func (s *MemorySessionStore) Load(_ context.Context, key string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[key]
	if !ok {
		return NewState(key), nil
	}
	return st.clone(), nil
}

func (s *MemorySessionStore) Save(_ context.Context, state State) error {
	if state.Key == "" {
		return fmt.Errorf("session key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.Key] = state.clone()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RedisSessionStore stores sessions as JSON in Redis. Every save refreshes
// the key's TTL, so idle sessions expire on their own.
type RedisSessionStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisSessionStore creates a Redis-backed store.
func NewRedisSessionStore(c *cache.Cache, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{cache: c, ttl: ttl}
}

func sessionCacheKey(key string) string { return "session:" + key }

func (s *RedisSessionStore) Load(ctx context.Context, key string) (State, error) {
	var st State
	err := s.cache.GetJSON(ctx, sessionCacheKey(key), &st)
	if errors.Is(err, cache.ErrMiss) {
		return NewState(key), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load session %s: %w", key, err)
	}
	if st.Turns == nil {
		st.Turns = []Turn{}
	}
	st.Key = key
	return st, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, state State) error {
	if state.Key == "" {
		return fmt.Errorf("session key is required")
	}
	if err := s.cache.SetJSON(ctx, sessionCacheKey(state.Key), state, s.ttl); err != nil {
		return fmt.Errorf("save session %s: %w", state.Key, err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, sessionCacheKey(key)); err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}
