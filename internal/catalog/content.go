package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streamline/gateway/internal/quality"
	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/internal/worker"
	"github.com/streamline/gateway/pkg/ann"
)

// UpsertContent writes a platform's normalized content item, keyed by
// (platform_id, platform_content_id), preserving any previously recorded
// embedding/quality bookkeeping columns on conflict.
func (s *Store) UpsertContent(ctx context.Context, c types.Content) error {
	genres, err := json.Marshal(c.Genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}
	availability, err := json.Marshal(c.Availability)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	images, err := json.Marshal(c.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content (
			platform_id, platform_content_id, entity_id, content_type, title, overview,
			release_year, runtime_minutes, genres, external_imdb, external_tmdb, external_eidr,
			availability, images, ratings, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform_id, platform_content_id) DO UPDATE SET
			entity_id = excluded.entity_id,
			content_type = excluded.content_type,
			title = excluded.title,
			overview = excluded.overview,
			release_year = excluded.release_year,
			runtime_minutes = excluded.runtime_minutes,
			genres = excluded.genres,
			external_imdb = excluded.external_imdb,
			external_tmdb = excluded.external_tmdb,
			external_eidr = excluded.external_eidr,
			availability = excluded.availability,
			images = excluded.images,
			ratings = excluded.ratings,
			updated_at = excluded.updated_at
	`,
		c.PlatformID, c.PlatformContentID, c.EntityID, string(c.ContentType), c.Title, c.Overview,
		c.ReleaseYear, c.RuntimeMinutes, string(genres), c.ExternalIDs.IMDb, c.ExternalIDs.TMDB, c.ExternalIDs.EIDR,
		string(availability), string(images), c.Ratings, c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// ContentByEntity returns every platform row sharing an entity_id.
func (s *Store) ContentByEntity(ctx context.Context, entityID string) ([]types.Content, error) {
	rows, err := s.db.QueryContext(ctx, contentSelectColumns+` WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query content by entity: %w", err)
	}
	defer rows.Close()
	return scanContentRows(rows)
}

const contentSelectColumns = `
	SELECT platform_id, platform_content_id, entity_id, content_type, title, overview,
		release_year, runtime_minutes, genres, external_imdb, external_tmdb, external_eidr,
		availability, images, ratings, embedding, updated_at
	FROM content`

func scanContentRows(rows *sql.Rows) ([]types.Content, error) {
	var out []types.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (types.Content, error) {
	var (
		c                                        types.Content
		contentType, genres, availability, image string
		updatedAt                                 string
		embedding                                 []byte
	)
	if err := row.Scan(
		&c.PlatformID, &c.PlatformContentID, &c.EntityID, &contentType, &c.Title, &c.Overview,
		&c.ReleaseYear, &c.RuntimeMinutes, &genres, &c.ExternalIDs.IMDb, &c.ExternalIDs.TMDB, &c.ExternalIDs.EIDR,
		&availability, &image, &c.Ratings, &embedding, &updatedAt,
	); err != nil {
		return types.Content{}, fmt.Errorf("scan content: %w", err)
	}

	c.ContentType = types.ContentType(contentType)
	if err := json.Unmarshal([]byte(genres), &c.Genres); err != nil {
		return types.Content{}, fmt.Errorf("unmarshal genres: %w", err)
	}
	if err := json.Unmarshal([]byte(availability), &c.Availability); err != nil {
		return types.Content{}, fmt.Errorf("unmarshal availability: %w", err)
	}
	if err := json.Unmarshal([]byte(image), &c.Images); err != nil {
		return types.Content{}, fmt.Errorf("unmarshal images: %w", err)
	}
	if len(embedding) > 0 {
		c.Embedding = ann.UnpackEmbedding(embedding)
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return types.Content{}, fmt.Errorf("parse updated_at: %w", err)
	}
	c.UpdatedAt = ts
	return c, nil
}

// ContentNeedingScore satisfies internal/quality.Store: returns content
// rows never scored or scored before their last update.
func (s *Store) ContentNeedingScore(ctx context.Context, limit int) ([]types.Content, error) {
	rows, err := s.db.QueryContext(ctx, contentSelectColumns+`
		WHERE quality_scored_at IS NULL OR quality_scored_at < updated_at
		ORDER BY updated_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query content needing score: %w", err)
	}
	defer rows.Close()
	return scanContentRows(rows)
}

// RecordScore satisfies internal/quality.Store.
func (s *Store) RecordScore(ctx context.Context, entityID, platformID string, score quality.Score) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content SET quality_base = ?, quality_final = ?, quality_scored_at = ?
		WHERE entity_id = ? AND platform_id = ?`,
		score.Base, score.Final, time.Now().UTC().Format(time.RFC3339), entityID, platformID)
	if err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record score rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record score: no content row for entity_id=%s platform_id=%s", entityID, platformID)
	}
	return nil
}

// ContentNeedingEmbedding satisfies internal/worker.EmbeddingStore: rows
// with no embedding yet that have not been permanently marked failed.
// Retry-count bookkeeping lives in the coordinator, not the catalog.
func (s *Store) ContentNeedingEmbedding(ctx context.Context, limit int) ([]types.Content, error) {
	rows, err := s.db.QueryContext(ctx, contentSelectColumns+`
		WHERE embedding IS NULL AND embedding_failed = 0
		ORDER BY updated_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query content needing embedding: %w", err)
	}
	defer rows.Close()
	return scanContentRows(rows)
}

// UpdateEmbedding satisfies internal/worker.EmbeddingStore.
func (s *Store) UpdateEmbedding(ctx context.Context, entityID, platformID string, embedding []float32) error {
	packed := ann.PackEmbedding(embedding)
	_, err := s.db.ExecContext(ctx, `
		UPDATE content SET embedding = ?, embedding_attempts = embedding_attempts + 1
		WHERE entity_id = ? AND platform_id = ?`, packed, entityID, platformID)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// MarkEmbeddingFailed satisfies internal/worker.EmbeddingStore: flags the
// row so it stops being returned by ContentNeedingEmbedding, once the
// coordinator has given up retrying it.
func (s *Store) MarkEmbeddingFailed(ctx context.Context, entityID, platformID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE content SET embedding_attempts = embedding_attempts + 1, embedding_failed = 1
		WHERE entity_id = ? AND platform_id = ?`, entityID, platformID)
	if err != nil {
		return fmt.Errorf("mark embedding failed: %w", err)
	}
	return nil
}

// EmbeddingOf returns the stored embedding for an entity_id, satisfying
// internal/reco/blend.EmbeddingSource when adapted as a closure.
func (s *Store) EmbeddingOf(ctx context.Context, entityID string) ([]float32, bool) {
	var embedding []byte
	row := s.db.QueryRowContext(ctx, `SELECT embedding FROM content WHERE entity_id = ? AND embedding IS NOT NULL LIMIT 1`, entityID)
	if err := row.Scan(&embedding); err != nil {
		return nil, false
	}
	if len(embedding) == 0 {
		return nil, false
	}
	return ann.UnpackEmbedding(embedding), true
}

// AllEmbeddings returns every content row that already has an embedding,
// for populating pkg/ann.Index on startup (an empty in-process index
// would otherwise forget every embedding a prior run computed until the
// next embedding coordinator cycle re-embeds it).
func (s *Store) AllEmbeddings(ctx context.Context) ([]types.Content, error) {
	rows, err := s.db.QueryContext(ctx, contentSelectColumns+`
		WHERE embedding IS NOT NULL
		ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query all embeddings: %w", err)
	}
	defer rows.Close()
	return scanContentRows(rows)
}

var (
	_ quality.Store      = (*Store)(nil)
	_ worker.EmbeddingStore = (*Store)(nil)
)
