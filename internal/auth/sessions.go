package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartcanteen/locker-service/internal/redisx"
)

// RedisSessions stores sessions as JSON under canteen:session:{token}.
type RedisSessions struct{ RDB *redis.Client }

var _ SessionStore = (*RedisSessions)(nil)

func (r *RedisSessions) Put(ctx context.Context, token string, s Session, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.RDB.Set(ctx, fmt.Sprintf(redisx.KeySession, token), b, ttl).Err()
}

func (r *RedisSessions) Get(ctx context.Context, token string) (Session, error) {
	b, err := r.RDB.Get(ctx, fmt.Sprintf(redisx.KeySession, token)).Bytes()
	if err == redis.Nil {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// MemSessions is the in-memory SessionStore for tests and dev runs.
type MemSessions struct {
	mu       sync.Mutex
	sessions map[string]memSession
}

type memSession struct {
	s   Session
	exp time.Time
}

func NewMemSessions() *MemSessions {
	return &MemSessions{sessions: map[string]memSession{}}
}

var _ SessionStore = (*MemSessions)(nil)

func (m *MemSessions) Put(ctx context.Context, token string, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = memSession{s: s, exp: time.Now().Add(ttl)}
	return nil
}

func (m *MemSessions) Get(ctx context.Context, token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[token]
	if !ok || time.Now().After(ms.exp) {
		delete(m.sessions, token)
		return Session{}, ErrNoSession
	}
	return ms.s, nil
}
