package main

import (
	"context"
	"sync"
	"time"
)

// memRevocationStore is a process-local integrity.RevocationStore. The
// gateway authenticates every request with one static bearer API key
// (internal/api.AuthMiddleware), not per-session tokens, so nothing in
// the request path currently revokes a token — this exists only to
// satisfy integrity.NewGuard's constructor and gives the revocation
// sub-feature somewhere to live once per-token auth lands.
type memRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func newMemRevocationStore() *memRevocationStore {
	return &memRevocationStore{revoked: make(map[string]time.Time)}
}

func (s *memRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = expiresAt
	return nil
}

func (s *memRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiresAt, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		return false, nil
	}
	return true, nil
}
