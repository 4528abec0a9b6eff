package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/streamline/gateway/internal/reco/candidates"
	"github.com/streamline/gateway/internal/types"
)

// AllInteractions satisfies internal/reco/candidates.InteractionSource:
// the full interaction history used to fit the ALS model (spec.md §4.10).
func (s *Store) AllInteractions(ctx context.Context) ([]types.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, content_id, type, progress, rating, ts FROM interactions ORDER BY ts ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Interaction
	for rows.Next() {
		var in types.Interaction
		var typ, ts string
		if err := rows.Scan(&in.UserID, &in.ContentID, &typ, &in.Progress, &in.Rating, &ts); err != nil {
			return nil, err
		}
		in.Type = types.InteractionType(typ)
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, err
		}
		in.Timestamp = parsed
		out = append(out, in)
	}
	return out, rows.Err()
}

// RecordInteraction appends one interaction event, the write side of
// AllInteractions and the source feed for FeatureStore profile updates.
func (s *Store) RecordInteraction(ctx context.Context, in types.Interaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (user_id, content_id, type, progress, rating, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.UserID, in.ContentID, string(in.Type), in.Progress, in.Rating, in.Timestamp.UTC().Format(time.RFC3339))
	return err
}

// InteractionsByUser returns one user's interaction history, ordered
// oldest first, used by internal/reco both to build the content-
// similarity user vector and to exclude already-seen content from
// recommendations (spec.md §4.11 step 3).
func (s *Store) InteractionsByUser(ctx context.Context, userID string) ([]types.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, content_id, type, progress, rating, ts FROM interactions
		WHERE user_id = ? ORDER BY ts ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Interaction
	for rows.Next() {
		var in types.Interaction
		var typ, ts string
		if err := rows.Scan(&in.UserID, &in.ContentID, &typ, &in.Progress, &in.Rating, &ts); err != nil {
			return nil, err
		}
		in.Type = types.InteractionType(typ)
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, err
		}
		in.Timestamp = parsed
		out = append(out, in)
	}
	return out, rows.Err()
}

// GenresOf satisfies internal/reco/candidates.GraphSource. The interface
// carries no context or error return (it is called synchronously deep
// inside a breadth-first traversal), so failures degrade to an empty
// result rather than aborting the whole recommendation pull — consistent
// with spec.md §5's soft-deadline, best-effort candidate generation.
func (s *Store) GenresOf(contentID string) []string {
	var genres string
	row := s.db.QueryRowContext(context.Background(), `SELECT genres FROM content WHERE entity_id = ? LIMIT 1`, contentID)
	if err := row.Scan(&genres); err != nil {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(genres), &out); err != nil {
		slog.Warn("decode genres failed", "component", "catalog", "content_id", contentID, "error", err)
		return nil
	}
	return out
}

// CastOf satisfies internal/reco/candidates.GraphSource. The catalog has
// no dedicated cast table (spec.md's Content type carries no cast field),
// so this always returns nil; cast-overlap scoring degrades to zero
// rather than genre+co-watch being dropped entirely.
func (s *Store) CastOf(contentID string) []string {
	return nil
}

// CoWatchNeighbors satisfies internal/reco/candidates.GraphSource: other
// content_ids interacted with by users who also interacted with
// contentID, weighted by co-occurrence count.
func (s *Store) CoWatchNeighbors(contentID string) map[string]int {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT b.content_id, COUNT(*) FROM interactions a
		JOIN interactions b ON a.user_id = b.user_id AND b.content_id != a.content_id
		WHERE a.content_id = ?
		GROUP BY b.content_id
		ORDER BY COUNT(*) DESC
		LIMIT 50`, contentID)
	if err != nil {
		slog.Warn("co-watch query failed", "component", "catalog", "content_id", contentID, "error", err)
		return nil
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var neighbor string
		var count int
		if err := rows.Scan(&neighbor, &count); err != nil {
			continue
		}
		out[neighbor] = count
	}
	return out
}

var (
	_ candidates.InteractionSource = (*Store)(nil)
	_ candidates.GraphSource       = (*Store)(nil)
)
