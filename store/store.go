// Package store wraps Redis as the keyed store behind rate limiting,
// the token denylist, the hot-message cache, and presence tracking.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found in store")

// Config holds Redis connection configuration.
type Config struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Prefix       string
}

// DefaultConfig returns default Redis configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "localhost:6379",
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Prefix:       "pulseroom",
	}
}

// Store is the keyed store abstraction (C1). All callers address it
// through logical keys; Store adds the configured prefix.
type Store struct {
	client *redis.Client
	prefix string

	mu    sync.RWMutex
	stats Stats
}

// Stats holds store usage counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64
}

// New creates a Store backed by a Redis client.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client, prefix: cfg.Prefix}, nil
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get retrieves and JSON-decodes a value.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.bump(func(st *Stats) { st.Misses++ })
			return ErrNotFound
		}
		s.bump(func(st *Stats) { st.Errors++ })
		return err
	}
	s.bump(func(st *Stats) { st.Hits++ })
	return json.Unmarshal(data, dest)
}

// Set stores a JSON-encoded value with a TTL. ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		s.bump(func(st *Stats) { st.Errors++ })
		return err
	}
	s.bump(func(st *Stats) { st.Sets++ })
	return nil
}

// SetNX stores a value only if the key does not already exist.
func (s *Store) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.key(key), data, ttl).Result()
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.bump(func(st *Stats) { st.Errors++ })
		return err
	}
	s.bump(func(st *Stats) { st.Deletes++ })
	return nil
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	return n > 0, err
}

// Expire refreshes a key's TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.key(key), ttl).Err()
}

// Incr atomically increments a counter and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, s.key(key)).Result()
}

// --- sorted-set primitives, used by the sliding-window rate limiter (C2) ---

// ZAdd adds a member with the given score (the rate limiter scores by
// unix-millisecond timestamp).
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, s.key(key), redis.Z{Score: score, Member: member}).Err()
}

// ZRemRangeByScore removes members scored in [min, max].
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.client.ZRemRangeByScore(ctx, s.key(key), formatScore(min), formatScore(max)).Err()
}

// ZCard returns the number of members in a sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, s.key(key)).Result()
}

// ZMember is one scored member of a sorted set, returned by
// ZRangeWithScores in ascending score order.
type ZMember struct {
	Member string
	Score  float64
}

// ZRangeWithScores returns the [start, stop] range of a sorted set in
// ascending score order, e.g. ZRangeWithScores(ctx, key, 0, 0) for the
// single oldest-scored member.
func (s *Store) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.key(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ZMember, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out[i] = ZMember{Member: member, Score: z.Score}
	}
	return out, nil
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}

// --- list primitives, used by the hot-message cache (C4) ---

// LPush prepends a JSON-encoded value onto a list.
func (s *Store) LPush(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, s.key(key), data).Err()
}

// LTrim keeps only the [start, stop] range of a list.
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, s.key(key), start, stop).Err()
}

// LRange returns a list's [start, stop] range, JSON-decoded into dest.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64, dest interface{}) error {
	items, err := s.client.LRange(ctx, s.key(key), start, stop).Result()
	if err != nil {
		return err
	}
	raw := "[" + joinJSON(items) + "]"
	return json.Unmarshal([]byte(raw), dest)
}

func joinJSON(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

// --- hash primitives, used by presence tracking (C5) ---

// HSet sets a single field on a hash.
func (s *Store) HSet(ctx context.Context, key, field string, value interface{}) error {
	return s.client.HSet(ctx, s.key(key), field, value).Err()
}

// HGet retrieves a single field from a hash.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, s.key(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// HDel removes fields from a hash.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return s.client.HDel(ctx, s.key(key), fields...).Err()
}

// HGetAll retrieves every field of a hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(key)).Result()
}

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return s.client.SAdd(ctx, s.key(key), members...).Err()
}

// SRem removes members from a set.
func (s *Store) SRem(ctx context.Context, key string, members ...interface{}) error {
	return s.client.SRem(ctx, s.key(key), members...).Err()
}

// SMembers lists every member of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, s.key(key)).Result()
}

// Stats returns a snapshot of usage counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Store) bump(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis reachability for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
