package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/streamline/gateway/internal/quality"
	"github.com/streamline/gateway/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := openTestStore(t)
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&n); err != nil {
		t.Fatalf("query content table: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty content table, got %d rows", n)
	}
}

func sampleContent(platformID, platformContentID, entityID string) types.Content {
	return types.Content{
		EntityID:          entityID,
		PlatformID:        platformID,
		PlatformContentID: platformContentID,
		ContentType:       types.ContentMovie,
		Title:             "Test Movie",
		ReleaseYear:       2020,
		Genres:            []string{"drama", "thriller"},
		Availability:      types.Availability{Regions: []string{"US"}},
		UpdatedAt:         time.Now().UTC(),
	}
}

func TestUpsertAndFetchContent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := sampleContent("netflix", "abc123", "ent-1")
	if err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("upsert content: %v", err)
	}

	rows, err := s.ContentByEntity(ctx, "ent-1")
	if err != nil {
		t.Fatalf("content by entity: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Title != "Test Movie" || rows[0].ReleaseYear != 2020 {
		t.Errorf("unexpected row: %+v", rows[0])
	}

	// Re-upsert with a changed title should update in place, not duplicate.
	c.Title = "Renamed Movie"
	if err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("re-upsert content: %v", err)
	}
	rows, err = s.ContentByEntity(ctx, "ent-1")
	if err != nil {
		t.Fatalf("content by entity: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "Renamed Movie" {
		t.Fatalf("expected single updated row, got %+v", rows)
	}
}

func TestContentNeedingScoreAndRecordScore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := sampleContent("netflix", "abc123", "ent-1")
	if err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("upsert content: %v", err)
	}

	needing, err := s.ContentNeedingScore(ctx, 10)
	if err != nil {
		t.Fatalf("content needing score: %v", err)
	}
	if len(needing) != 1 {
		t.Fatalf("expected 1 unscored row, got %d", len(needing))
	}

	if err := s.RecordScore(ctx, "ent-1", "netflix", quality.Score{Base: 0.8, Final: 0.8}); err != nil {
		t.Fatalf("record score: %v", err)
	}

	needing, err = s.ContentNeedingScore(ctx, 10)
	if err != nil {
		t.Fatalf("content needing score after scoring: %v", err)
	}
	if len(needing) != 0 {
		t.Errorf("expected 0 rows needing score after recording, got %d", len(needing))
	}
}

func TestEmbeddingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := sampleContent("netflix", "abc123", "ent-1")
	if err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("upsert content: %v", err)
	}

	pending, err := s.ContentNeedingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("content needing embedding: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending row, got %d", len(pending))
	}

	embedding := make([]float32, 8)
	for i := range embedding {
		embedding[i] = float32(i) / 8
	}
	if err := s.UpdateEmbedding(ctx, "ent-1", "netflix", embedding); err != nil {
		t.Fatalf("update embedding: %v", err)
	}

	pending, err = s.ContentNeedingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("content needing embedding after update: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending rows after embedding, got %d", len(pending))
	}

	got, ok := s.EmbeddingOf(ctx, "ent-1")
	if !ok {
		t.Fatal("expected embedding to be found")
	}
	if len(got) != len(embedding) {
		t.Errorf("expected embedding length %d, got %d", len(embedding), len(got))
	}
}

func TestMarkEmbeddingFailed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := sampleContent("netflix", "abc123", "ent-1")
	if err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("upsert content: %v", err)
	}

	if err := s.MarkEmbeddingFailed(ctx, "ent-1", "netflix"); err != nil {
		t.Fatalf("mark embedding failed: %v", err)
	}

	pending, err := s.ContentNeedingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("content needing embedding: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected permanently failed row to be excluded, got %d", len(pending))
	}
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertContent(ctx, sampleContent("netflix", "abc123", "ent-1")); err != nil {
		t.Fatalf("upsert content: %v", err)
	}
	if err := s.UpsertContent(ctx, sampleContent("hulu", "xyz789", "ent-1")); err != nil {
		t.Fatalf("upsert content: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.ContentCount != 2 {
		t.Errorf("expected content count 2, got %d", stats.ContentCount)
	}
	if stats.EntityCount != 1 {
		t.Errorf("expected entity count 1, got %d", stats.EntityCount)
	}
	if stats.PendingEmbeddingCount != 2 {
		t.Errorf("expected 2 pending embeddings, got %d", stats.PendingEmbeddingCount)
	}
}
