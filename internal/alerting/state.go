package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/airquality-pipeline/internal/models"
)

// OpenAlert is the state kept for the single open alert of a (location, parameter) pair
type OpenAlert struct {
	AlertID     int64            `json:"alert_id"`
	LocationRef string           `json:"location_ref"`
	Parameter   models.Parameter `json:"parameter"`
	Severity    string           `json:"severity"`
	Rank        int              `json:"rank"`
	TriggeredAt time.Time        `json:"triggered_at"`
}

// StateStore tracks open alerts. GetOpen returns nil when the pair has none.
type StateStore interface {
	GetOpen(ctx context.Context, locationRef string, p models.Parameter) (*OpenAlert, error)
	SetOpen(ctx context.Context, a *OpenAlert) error
	ClearOpen(ctx context.Context, locationRef string, p models.Parameter) error
	// Replace drops all state and installs open
	Replace(ctx context.Context, open []*OpenAlert) error
}

func stateKey(locationRef string, p models.Parameter) string {
	return fmt.Sprintf("alert_state:%s:%s", locationRef, p)
}

// MemoryStateStore keeps open alerts in process memory
type MemoryStateStore struct {
	mu    sync.Mutex
	state map[string]*OpenAlert
}

// NewMemoryStateStore creates an empty in-memory store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{state: make(map[string]*OpenAlert)}
}

// GetOpen returns a copy of the open alert for the pair, if any
func (m *MemoryStateStore) GetOpen(ctx context.Context, locationRef string, p models.Parameter) (*OpenAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.state[stateKey(locationRef, p)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStateStore) SetOpen(ctx context.Context, a *OpenAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.state[stateKey(a.LocationRef, a.Parameter)] = &cp
	return nil
}

func (m *MemoryStateStore) ClearOpen(ctx context.Context, locationRef string, p models.Parameter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state, stateKey(locationRef, p))
	return nil
}

func (m *MemoryStateStore) Replace(ctx context.Context, open []*OpenAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = make(map[string]*OpenAlert, len(open))
	for _, a := range open {
		cp := *a
		m.state[stateKey(a.LocationRef, a.Parameter)] = &cp
	}
	return nil
}

// Len returns the number of open alerts
func (m *MemoryStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state)
}

// RedisStateStore keeps open alerts in Redis so that every process
// (pipeline, API) sees the same state
type RedisStateStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStateStore creates a Redis-backed store. Entries expire after ttl
// so abandoned state cleans itself up; zero means 7 days.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStateStore{redis: client, ttl: ttl}
}

// GetOpen retrieves the open alert for a location and parameter
func (s *RedisStateStore) GetOpen(ctx context.Context, locationRef string, p models.Parameter) (*OpenAlert, error) {
	data, err := s.redis.Get(ctx, stateKey(locationRef, p)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert state from Redis: %w", err)
	}

	var a OpenAlert
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert state: %w", err)
	}
	return &a, nil
}

// SetOpen saves the open alert for its location and parameter
func (s *RedisStateStore) SetOpen(ctx context.Context, a *OpenAlert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert state: %w", err)
	}

	if err := s.redis.Set(ctx, stateKey(a.LocationRef, a.Parameter), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert state in Redis: %w", err)
	}
	return nil
}

// ClearOpen removes the open alert for a location and parameter
func (s *RedisStateStore) ClearOpen(ctx context.Context, locationRef string, p models.Parameter) error {
	return s.redis.Del(ctx, stateKey(locationRef, p)).Err()
}

// Replace deletes every alert state key and writes open in one transaction
func (s *RedisStateStore) Replace(ctx context.Context, open []*OpenAlert) error {
	var keys []string
	iter := s.redis.Scan(ctx, 0, "alert_state:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan alert state: %w", err)
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		for _, a := range open {
			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("failed to marshal alert state: %w", err)
			}
			pipe.Set(ctx, stateKey(a.LocationRef, a.Parameter), data, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace alert state in Redis: %w", err)
	}
	return nil
}
