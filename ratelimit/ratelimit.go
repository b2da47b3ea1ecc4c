// Package ratelimit implements the sliding-window rate limiter (C2)
// over the keyed store: each identifier's recent admissions are
// tracked as a sorted set of timestamps, trimmed to the window on
// every check.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/epic1st/pulseroom/backend/logging"
	"github.com/epic1st/pulseroom/backend/store"
)

// zsetStore is the slice of store.Store this limiter depends on,
// narrowed so tests can supply a fake.
type zsetStore interface {
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]store.ZMember, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Limit describes one (limit, window) admission rule.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Canonical identifier rules. Keys match the identifier prefix passed
// to Allow, e.g. Allow(ctx, "messageUser:"+userID).
var defaults = map[string]Limit{
	"messageUser":  {Requests: 60, Window: 60 * time.Second},
	"messageIP":    {Requests: 100, Window: 60 * time.Second},
	"websocketIP":  {Requests: 10, Window: 300 * time.Second},
	"apiUser":      {Requests: 1000, Window: 3600 * time.Second},
	"roomJoinUser": {Requests: 20, Window: 300 * time.Second},
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter is the sliding-window rate limiter.
type Limiter struct {
	store  zsetStore
	limits map[string]Limit
}

// New creates a Limiter with the canonical identifier rules. Callers
// may override or add rules via WithLimit.
func New(s zsetStore) *Limiter {
	limits := make(map[string]Limit, len(defaults))
	for k, v := range defaults {
		limits[k] = v
	}
	return &Limiter{store: s, limits: limits}
}

// WithLimit registers or overrides the rule for an identifier class.
func (l *Limiter) WithLimit(class string, limit Limit) {
	l.limits[class] = limit
}

// Allow admits or denies a request for the given identifier class,
// e.g. "messageUser", keyed further by id (a user ID, IP, etc).
//
// Store errors fail open: the request is admitted and a warning is
// logged, since an unreachable store must not take the whole gateway
// down with it.
func (l *Limiter) Allow(ctx context.Context, class, id string) (Decision, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Decision{Allowed: true}, fmt.Errorf("ratelimit: unknown class %q", class)
	}
	return l.AllowN(ctx, class+":"+id, limit.Requests, limit.Window)
}

// AllowN admits or denies a request against an explicit (limit, window)
// for an arbitrary bucket key. This is the sliding-window algorithm
// from first principles: evict stale entries, check cardinality,
// record the admission.
func (l *Limiter) AllowN(ctx context.Context, bucketKey string, limit int, window time.Duration) (Decision, error) {
	key := "ratelimit:" + bucketKey
	now := time.Now()
	nowMs := float64(now.UnixMilli())
	windowMs := float64(window.Milliseconds())

	if err := l.store.ZRemRangeByScore(ctx, key, 0, nowMs-windowMs); err != nil {
		logging.Warn("rate limiter store error, failing open",
			logging.String("bucket", bucketKey),
			logging.String("error", err.Error()),
		)
		return Decision{Allowed: true}, nil
	}

	card, err := l.store.ZCard(ctx, key)
	if err != nil {
		logging.Warn("rate limiter store error, failing open",
			logging.String("bucket", bucketKey),
			logging.String("error", err.Error()),
		)
		return Decision{Allowed: true}, nil
	}

	if int(card) >= limit {
		// §4.2 step 3: retryAfter is oldest-entry-score + window, not
		// now + window — the oldest admission ages out of the window
		// well before a full window has passed since this check.
		resetTime := now.Add(window)
		if oldest, err := l.store.ZRangeWithScores(ctx, key, 0, 0); err == nil && len(oldest) > 0 {
			resetTime = time.UnixMilli(int64(oldest[0].Score)).Add(window)
		} else if err != nil {
			logging.Warn("rate limiter store error reading oldest entry, defaulting resetTime",
				logging.String("bucket", bucketKey),
				logging.String("error", err.Error()),
			)
		}
		retryAfter := time.Duration(0)
		if resetTime.After(now) {
			retryAfter = resetTime.Sub(now)
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  resetTime,
			RetryAfter: retryAfter,
		}, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	if err := l.store.ZAdd(ctx, key, nowMs, member); err != nil {
		logging.Warn("rate limiter store error on admit, failing open",
			logging.String("bucket", bucketKey),
			logging.String("error", err.Error()),
		)
		return Decision{Allowed: true}, nil
	}
	if err := l.store.Expire(ctx, key, window); err != nil {
		logging.Warn("rate limiter expire failed",
			logging.String("bucket", bucketKey),
			logging.String("error", err.Error()),
		)
	}

	return Decision{
		Allowed:   true,
		Remaining: limit - int(card) - 1,
		ResetTime: now.Add(window),
	}, nil
}
