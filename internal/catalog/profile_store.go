package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streamline/gateway/internal/featurestore"
	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/pkg/ann"
)

// GetProfile satisfies internal/featurestore.Store. A user with no row
// yet gets a fresh zero-vector profile rather than an error — every user
// starts cold (spec.md §3).
func (s *Store) GetProfile(ctx context.Context, userID string) (types.Profile, error) {
	var (
		p                          types.Profile
		preferenceVector, affinity []byte
		updatedAt                  string
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT preference_vector, genre_affinities, hour_of_day, day_of_week, interaction_count, updated_at
		FROM profiles WHERE user_id = ?`, userID)
	err := row.Scan(&preferenceVector, &affinity, &p.TemporalContext.HourOfDay, &p.TemporalContext.DayOfWeek, &p.InteractionCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Profile{
			UserID:           userID,
			PreferenceVector: make([]float32, types.PreferenceVectorDim),
			GenreAffinities:  map[string]float32{},
			UpdatedAt:        time.Now().UTC(),
		}, nil
	}
	if err != nil {
		return types.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	p.UserID = userID
	p.PreferenceVector = ann.UnpackEmbedding(preferenceVector)
	if err := json.Unmarshal(affinity, &p.GenreAffinities); err != nil {
		return types.Profile{}, fmt.Errorf("unmarshal genre affinities: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return types.Profile{}, fmt.Errorf("parse updated_at: %w", err)
	}
	p.UpdatedAt = ts
	return p, nil
}

// SaveProfile satisfies internal/featurestore.Store.
func (s *Store) SaveProfile(ctx context.Context, p types.Profile) error {
	affinity, err := json.Marshal(p.GenreAffinities)
	if err != nil {
		return fmt.Errorf("marshal genre affinities: %w", err)
	}
	packed := ann.PackEmbedding(p.PreferenceVector)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, preference_vector, genre_affinities, hour_of_day, day_of_week, interaction_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			preference_vector = excluded.preference_vector,
			genre_affinities = excluded.genre_affinities,
			hour_of_day = excluded.hour_of_day,
			day_of_week = excluded.day_of_week,
			interaction_count = excluded.interaction_count,
			updated_at = excluded.updated_at`,
		p.UserID, packed, string(affinity), p.TemporalContext.HourOfDay, p.TemporalContext.DayOfWeek,
		p.InteractionCount, p.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

var _ featurestore.Store = (*Store)(nil)
