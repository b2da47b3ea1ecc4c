package auth

import (
	"context"
	"time"
)

// keyedStore is the slice of store.Store the denylist depends on.
type keyedStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// userBlacklistEntry is the value written by blacklistUser.
type userBlacklistEntry struct {
	BlacklistedAtMs int64 `json:"blacklistedAt"`
}

const userBlacklistTTL = 7 * 24 * time.Hour

// blacklistKey is the canonical token-denylist prefix. The original
// implementation wrote under two different prefixes; this one is the
// only writer and reader.
func blacklistKey(token string) string {
	return "blacklist:token:" + token
}

func userBlacklistKey(userID string) string {
	return "blacklist:user:" + userID
}

// Denylist implements C3: revoked refresh tokens and a per-user
// "all tokens issued before this instant are void" cutoff.
type Denylist struct {
	store keyedStore
}

// NewDenylist wraps a keyed store as a Denylist.
func NewDenylist(s keyedStore) *Denylist {
	return &Denylist{store: s}
}

// Blacklist decodes the token without verifying its signature to
// recover exp, and writes a marker that expires at the same instant —
// once the token would have expired naturally, the denylist entry is
// no longer needed.
func (d *Denylist) Blacklist(ctx context.Context, token string) error {
	claims, err := parseClaimsUnverified(token)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return d.store.Set(ctx, blacklistKey(token), map[string]bool{"revoked": true}, ttl)
}

// IsBlacklisted reports whether a specific token has been revoked.
func (d *Denylist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	return d.store.Exists(ctx, blacklistKey(token))
}

// BlacklistUser voids every token issued for userID before now.
func (d *Denylist) BlacklistUser(ctx context.Context, userID string) error {
	entry := userBlacklistEntry{BlacklistedAtMs: time.Now().UnixMilli()}
	return d.store.Set(ctx, userBlacklistKey(userID), entry, userBlacklistTTL)
}

// IsUserBlacklistedAt reports whether a token issued at iatMs for
// userID was issued before that user's blacklist cutoff.
func (d *Denylist) IsUserBlacklistedAt(ctx context.Context, userID string, iatMs int64) (bool, error) {
	var entry userBlacklistEntry
	err := d.store.Get(ctx, userBlacklistKey(userID), &entry)
	if err != nil {
		return false, nil
	}
	return iatMs < entry.BlacklistedAtMs, nil
}
