// Redis-based live status mirror. The engine pushes every lifecycle
// transition here so dashboards and a standby process can see the current
// book without touching PostgreSQL. When Redis is unavailable, writes fall
// back to an in-memory cache so trading continues without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"kospi-sniper-bot/internal/engine"
)

const (
	// SymbolKeyPrefix is the prefix for individual symbol state keys.
	// Format: sniper:symbol:{code}
	SymbolKeyPrefix = "sniper:symbol"

	// SymbolListKey holds the set of codes with recorded state.
	SymbolListKey = "sniper:symbols"

	// SymbolStateTTL expires stale keys after a session plus slack.
	SymbolStateTTL = 24 * time.Hour
)

// SymbolState is the JSON document mirrored per symbol.
type SymbolState struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   int       `json:"quantity"`
	SavedAt    time.Time `json:"saved_at"`
}

// RedisStatusMirror stores live symbol status in Redis with an in-memory
// fallback cache when Redis is unavailable.
type RedisStatusMirror struct {
	client         *redis.Client
	inMemoryCache  map[string]*SymbolState
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
}

// NewRedisStatusMirror creates the mirror. If client is nil, it operates in
// memory-only mode.
func NewRedisStatusMirror(client *redis.Client) *RedisStatusMirror {
	m := &RedisStatusMirror{
		client:        client,
		inMemoryCache: make(map[string]*SymbolState),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[REDIS-MIRROR] Redis unavailable at startup: %v, using in-memory cache", err)
			m.redisAvailable.Store(false)
		} else {
			log.Printf("[REDIS-MIRROR] Redis connected successfully")
			m.redisAvailable.Store(true)
		}
	} else {
		log.Printf("[REDIS-MIRROR] No Redis client provided, using in-memory cache only")
		m.redisAvailable.Store(false)
	}

	return m
}

func (m *RedisStatusMirror) symbolKey(code string) string {
	return fmt.Sprintf("%s:%s", SymbolKeyPrefix, code)
}

// SaveState mirrors one symbol's state. Redis failures flip the mirror to
// the in-memory cache and are not returned as errors.
func (m *RedisStatusMirror) SaveState(ctx context.Context, state *SymbolState) error {
	if state == nil || state.Code == "" {
		return fmt.Errorf("cannot save empty symbol state")
	}
	state.SavedAt = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal symbol state: %w", err)
	}

	m.updateCache(state)

	if m.client != nil && m.redisAvailable.Load() {
		pipe := m.client.TxPipeline()
		pipe.Set(ctx, m.symbolKey(state.Code), data, SymbolStateTTL)
		pipe.SAdd(ctx, SymbolListKey, state.Code)
		pipe.Expire(ctx, SymbolListKey, SymbolStateTTL)

		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[REDIS-MIRROR] Failed to save to Redis: %v, using in-memory cache", err)
			m.redisAvailable.Store(false)
		}
	}

	return nil
}

// LoadState returns the mirrored state for a code, or nil when none is
// recorded.
func (m *RedisStatusMirror) LoadState(ctx context.Context, code string) (*SymbolState, error) {
	if m.client != nil && m.redisAvailable.Load() {
		data, err := m.client.Get(ctx, m.symbolKey(code)).Result()
		if err != nil {
			if err == redis.Nil {
				return m.getFromCache(code), nil
			}
			log.Printf("[REDIS-MIRROR] Redis read error: %v, using in-memory cache", err)
			m.redisAvailable.Store(false)
			return m.getFromCache(code), nil
		}

		var state SymbolState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symbol state: %w", err)
		}
		m.updateCache(&state)
		return &state, nil
	}

	return m.getFromCache(code), nil
}

// ActiveCodes lists every code with mirrored state.
func (m *RedisStatusMirror) ActiveCodes(ctx context.Context) ([]string, error) {
	if m.client != nil && m.redisAvailable.Load() {
		codes, err := m.client.SMembers(ctx, SymbolListKey).Result()
		if err == nil {
			return codes, nil
		}
		log.Printf("[REDIS-MIRROR] Redis read error: %v, using in-memory cache", err)
		m.redisAvailable.Store(false)
	}

	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	codes := make([]string, 0, len(m.inMemoryCache))
	for code := range m.inMemoryCache {
		codes = append(codes, code)
	}
	return codes, nil
}

func (m *RedisStatusMirror) updateCache(state *SymbolState) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	cp := *state
	m.inMemoryCache[state.Code] = &cp
}

func (m *RedisStatusMirror) getFromCache(code string) *SymbolState {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	if s, ok := m.inMemoryCache[code]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// StatusRecorder fans a lifecycle transition out to both the PostgreSQL
// history row and the Redis mirror. It satisfies the engine's StatusStore.
type StatusRecorder struct {
	repo   *Repository
	mirror *RedisStatusMirror
}

// NewStatusRecorder wires the two sinks; either may be nil.
func NewStatusRecorder(repo *Repository, mirror *RedisStatusMirror) *StatusRecorder {
	return &StatusRecorder{repo: repo, mirror: mirror}
}

// SaveStatus records the symbol's current state in both sinks. The first
// failure is returned so the caller can log it, but both sinks are always
// attempted.
func (s *StatusRecorder) SaveStatus(ctx context.Context, sym *engine.WatchedSymbol) error {
	var firstErr error
	if s.repo != nil {
		if err := s.repo.UpdateStatus(ctx, sym); err != nil {
			firstErr = err
		}
	}
	if s.mirror != nil {
		err := s.mirror.SaveState(ctx, &SymbolState{
			Code:       sym.Code,
			Name:       sym.Name,
			Status:     string(sym.Status),
			EntryPrice: sym.EntryPrice,
			Quantity:   sym.Quantity,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
