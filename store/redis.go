package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultRedisPrefix = "wizard_session:"

// RedisClient captures the minimal commands needed from a redis client.
// Adapters for go-redis or rueidis satisfy it with one-line wrappers.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// RedisStore persists sessions as JSON values with a set indexing live ids.
// Compare-and-set is serialized per process.
type RedisStore struct {
	client    RedisClient
	ttl       time.Duration
	keyPrefix string
	mu        sync.Mutex
}

// NewRedisStore builds a store using the provided client and TTL. A zero TTL
// keeps keys until deleted.
func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, keyPrefix: defaultRedisPrefix}
}

// WithKeyPrefix overrides the key namespace.
func (s *RedisStore) WithKeyPrefix(prefix string) *RedisStore {
	if s != nil && strings.TrimSpace(prefix) != "" {
		s.keyPrefix = strings.TrimSpace(prefix)
	}
	return s
}

// Load reads a session from redis.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	key := s.redisKey(sessionID)
	if key == "" {
		return nil, nil
	}
	return s.loadByKey(ctx, key)
}

// SaveIfVersion performs an optimistic-lock update using read/compare/write.
func (s *RedisStore) SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis store not configured")
	}
	if rec == nil {
		return 0, ErrRecordRequired
	}
	key := s.redisKey(rec.SessionID)
	if key == "" {
		return 0, ErrRecordRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadByKey(ctx, key)
	if err != nil {
		return 0, err
	}
	next, err := prepareRecord(rec, current, expectedVersion)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return 0, err
	}
	if err := s.client.Set(ctx, key, string(payload), s.ttl); err != nil {
		return 0, err
	}
	if err := s.client.SAdd(ctx, s.indexKey(), next.SessionID); err != nil {
		return 0, err
	}
	return next.Version, nil
}

// Delete removes the session value and its index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	key := s.redisKey(sessionID)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Del(ctx, key); err != nil {
		return err
	}
	return s.client.SRem(ctx, s.indexKey(), strings.TrimSpace(sessionID))
}

// ListIdle walks the index set. Ids whose value expired are pruned from it.
func (s *RedisStore) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	members, err := s.client.SMembers(ctx, s.indexKey())
	if err != nil {
		return nil, err
	}

	idle := make([]*Record, 0)
	stale := make([]string, 0)
	for _, id := range members {
		rec, err := s.loadByKey(ctx, s.redisKey(id))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			stale = append(stale, id)
			continue
		}
		if rec.UpdatedAt.Before(before) {
			idle = append(idle, rec)
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), stale...); err != nil {
			return nil, err
		}
	}

	sort.Slice(idle, func(i, j int) bool {
		return idle[i].UpdatedAt.Before(idle[j].UpdatedAt)
	})
	ids := make([]string, 0, len(idle))
	for _, rec := range idle {
		ids = append(ids, rec.SessionID)
	}
	return ids, nil
}

func (s *RedisStore) loadByKey(ctx context.Context, key string) (*Record, error) {
	value, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) prefix() string {
	if s.keyPrefix == "" {
		return defaultRedisPrefix
	}
	return s.keyPrefix
}

func (s *RedisStore) redisKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return s.prefix() + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix() + "index"
}
