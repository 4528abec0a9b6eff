package integrity

import (
	"context"
	"testing"
	"time"
)

type fakeDeduper struct {
	seen map[string]bool
}

func (d *fakeDeduper) CheckAndMark(hash string) bool {
	if d.seen[hash] {
		return true
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[hash] = true
	return false
}

func TestGuard_CheckRateLimitRejectsBeyondBurst(t *testing.T) {
	g := NewGuard(testTiers(), nil, &fakeDeduper{}, newFakeRevocationStore(), nil)

	for i := 0; i < 2; i++ {
		if err := g.CheckRateLimit("free", "/sync/push", "user-1"); err != nil {
			t.Fatalf("unexpected rejection within burst: %v", err)
		}
	}
	if err := g.CheckRateLimit("free", "/sync/push", "user-1"); err == nil {
		t.Fatal("expected rejection beyond burst")
	}
}

func TestGuard_CheckWebhookDuplicateDelegatesToDeduper(t *testing.T) {
	dedup := &fakeDeduper{}
	g := NewGuard(testTiers(), nil, dedup, newFakeRevocationStore(), nil)

	if g.CheckWebhookDuplicate("hash-1") {
		t.Fatal("expected first sighting to not be a duplicate")
	}
	if !g.CheckWebhookDuplicate("hash-1") {
		t.Fatal("expected second sighting to be a duplicate")
	}
}

func TestGuard_CheckTokenRevokedRejectsRevokedToken(t *testing.T) {
	store := newFakeRevocationStore()
	g := NewGuard(testTiers(), nil, &fakeDeduper{}, store, nil)

	if err := g.Revocation.Revoke(context.Background(), "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.CheckTokenRevoked(context.Background(), "jti-1"); err == nil {
		t.Fatal("expected a revoked token to be rejected")
	}
	if err := g.CheckTokenRevoked(context.Background(), "jti-2"); err != nil {
		t.Fatalf("expected an unrevoked token to pass, got %v", err)
	}
}

func TestGuard_CallRunsThroughRegisteredBreaker(t *testing.T) {
	breakers := map[string]BreakerConfig{"reco-service": {}}
	g := NewGuard(testTiers(), breakers, &fakeDeduper{}, newFakeRevocationStore(), nil)

	result, err := g.Call(context.Background(), "reco-service", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected %q, got %v", "ok", result)
	}
}
