package integrity

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/streamline/gateway/internal/apperr"
)

// RevocationStore durably persists revoked token IDs (jti) past their
// natural expiry, for tokens revoked before they'd otherwise lapse
// (logout, credential compromise, device deauthorization). A Go-shaped
// analog to internal/webhook.Dedup's durable-dedup role, applied to auth
// tokens instead of webhook payload hashes.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// TokenRevocationList checks token revocation with an in-memory expirable
// cache in front of a durable RevocationStore, the same shape
// internal/webhook.Dedup uses an in-memory LRU in front of a durable
// check: a revoked token is looked up far more often than it is revoked,
// so a short-TTL local cache absorbs read load without a store round trip
// for already-known revocations.
type TokenRevocationList struct {
	store RevocationStore
	cache *lru.LRU[string, struct{}]
}

// NewTokenRevocationList builds a list backed by store, caching positive
// (revoked) answers locally for cacheTTL.
func NewTokenRevocationList(store RevocationStore, cacheTTL time.Duration, cacheCapacity int) *TokenRevocationList {
	if cacheCapacity <= 0 {
		cacheCapacity = 10_000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &TokenRevocationList{
		store: store,
		cache: lru.NewLRU[string, struct{}](cacheCapacity, nil, cacheTTL),
	}
}

// Revoke marks tokenID revoked until expiresAt (its own natural expiry;
// revocation need not be remembered past that point) and caches the
// answer locally so a subsequent IsRevoked on this instance doesn't race
// the store's write propagating.
func (l *TokenRevocationList) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := l.store.Revoke(ctx, tokenID, expiresAt); err != nil {
		return apperr.Wrap(apperr.KindDependencyFailure, "revoke token", err)
	}
	l.cache.Add(tokenID, struct{}{})
	return nil
}

// IsRevoked reports whether tokenID has been revoked, consulting the local
// cache before falling through to the durable store.
func (l *TokenRevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if _, ok := l.cache.Get(tokenID); ok {
		return true, nil
	}
	revoked, err := l.store.IsRevoked(ctx, tokenID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDependencyFailure, "check token revocation", err)
	}
	if revoked {
		l.cache.Add(tokenID, struct{}{})
	}
	return revoked, nil
}
