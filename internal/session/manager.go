// Package session persists per-session progress so an interrupted run
// can be resumed. Redis is the backing store when configured; without
// it the manager degrades to its in-process cache.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/metrics"
)

// Manager stores session state in redis with a local write-through
// cache. A nil redis client (no addr configured) is a supported mode;
// state then lives only for the life of the process.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*State
}

// NewManager connects to redis when cfg.Addr is set. Connection
// failure is an error; an empty addr is not.
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := &Manager{
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]*State),
	}
	if cfg.Addr == "" {
		logger.Info("redis not configured, session state is in-process only")
		return m, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	m.client = client
	return m, nil
}

// Open returns the state for sessionID, creating it when absent.
func (m *Manager) Open(ctx context.Context, sessionID, name string) (*State, error) {
	st, err := m.Get(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if err != ErrNotFound && err != ErrExpired {
		return nil, err
	}

	now := time.Now()
	st = &State{
		ID:        sessionID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Outcomes:  make(map[string]int),
	}
	if err := m.Save(ctx, st); err != nil {
		return nil, err
	}
	m.logger.Info("session opened",
		zap.String("session_id", sessionID),
		zap.String("name", name))
	return st, nil
}

// Get loads a session from the cache, falling back to redis.
func (m *Manager) Get(ctx context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	st, ok := m.cache[sessionID]
	m.mu.RUnlock()
	if ok {
		metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
		if st.Expired() {
			return nil, ErrExpired
		}
		return st, nil
	}
	metrics.SessionCacheLookups.WithLabelValues("miss").Inc()

	if m.client == nil {
		return nil, ErrNotFound
	}
	data, err := m.client.Get(ctx, key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	st = &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if st.Expired() {
		return nil, ErrExpired
	}

	m.mu.Lock()
	m.cache[sessionID] = st
	metrics.SessionsActive.Set(float64(len(m.cache)))
	m.mu.Unlock()
	return st, nil
}

// Save writes the state through to redis (when configured) and the
// local cache.
func (m *Manager) Save(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now()

	m.mu.Lock()
	m.cache[st.ID] = st
	metrics.SessionsActive.Set(float64(len(m.cache)))
	m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(st.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	if err := m.client.Set(ctx, key(st.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes a session from both stores.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.cache, sessionID)
	metrics.SessionsActive.Set(float64(len(m.cache)))
	m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	return m.client.Del(ctx, key(sessionID)).Err()
}

// Close releases the redis connection.
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func key(sessionID string) string {
	return "hrdesk:session:" + sessionID
}
