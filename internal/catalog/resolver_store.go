package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/streamline/gateway/internal/resolver"
	"github.com/streamline/gateway/internal/types"
)

// FindByExternalID satisfies internal/resolver.Store.
func (s *Store) FindByExternalID(ctx context.Context, externalID string, idType types.IDType) (types.EntityMapping, bool, error) {
	return s.findMapping(ctx, externalID, idType)
}

// FindByTitleYear satisfies internal/resolver.Store. Title/year mappings
// are keyed on the combined "normalizedTitle:year" string Resolver itself
// computes (resolver.go's titleYearKey), so the lookup is a direct
// primary-key read against entity_mappings.
func (s *Store) FindByTitleYear(ctx context.Context, normalizedTitle string, year int) (types.EntityMapping, bool, error) {
	return s.findMapping(ctx, normalizedTitle+":"+strconv.Itoa(year), types.IDTypeTitleYear)
}

func (s *Store) findMapping(ctx context.Context, externalID string, idType types.IDType) (types.EntityMapping, bool, error) {
	var m types.EntityMapping
	var createdAt string
	row := s.db.QueryRowContext(ctx, `
		SELECT external_id, id_type, entity_id, confidence, created_at
		FROM entity_mappings WHERE external_id = ? AND id_type = ?`, externalID, string(idType))
	if err := row.Scan(&m.ExternalID, (*string)(&m.IDType), &m.EntityID, &m.Confidence, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EntityMapping{}, false, nil
		}
		return types.EntityMapping{}, false, fmt.Errorf("find mapping: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return types.EntityMapping{}, false, fmt.Errorf("parse created_at: %w", err)
	}
	m.CreatedAt = ts
	return m, true, nil
}

// CandidatesForFuzzyMatch satisfies internal/resolver.Store: every
// title_year mapping recorded for the given release year, keyed by the
// release_year column rather than parsing it back out of the combined
// external_id (the ":"+year suffix is stripped to recover the title).
func (s *Store) CandidatesForFuzzyMatch(ctx context.Context, year int) ([]resolver.TitleCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, entity_id FROM entity_mappings
		WHERE id_type = ? AND release_year = ?`, string(types.IDTypeTitleYear), year)
	if err != nil {
		return nil, fmt.Errorf("query fuzzy candidates: %w", err)
	}
	defer rows.Close()

	suffix := ":" + strconv.Itoa(year)
	var out []resolver.TitleCandidate
	for rows.Next() {
		var externalID, entityID string
		if err := rows.Scan(&externalID, &entityID); err != nil {
			return nil, fmt.Errorf("scan fuzzy candidate: %w", err)
		}
		title := strings.TrimSuffix(externalID, suffix)
		out = append(out, resolver.TitleCandidate{NormalizedTitle: title, Year: year, EntityID: entityID})
	}
	return out, rows.Err()
}

// NewEntityID satisfies internal/resolver.Store, minting a ULID so
// entity_ids sort roughly by creation time like every other identifier
// the gateway mints (spec.md's Ambient Stack ID convention).
func (s *Store) NewEntityID(ctx context.Context) (string, error) {
	return ulid.Make().String(), nil
}

// Upsert satisfies internal/resolver.Store. For title_year mappings, the
// release_year column is populated from the year embedded in the caller's
// combined external_id key so CandidatesForFuzzyMatch can index on it.
func (s *Store) Upsert(ctx context.Context, mapping types.EntityMapping) error {
	releaseYear := 0
	if mapping.IDType == types.IDTypeTitleYear {
		if i := strings.LastIndex(mapping.ExternalID, ":"); i >= 0 {
			if y, err := strconv.Atoi(mapping.ExternalID[i+1:]); err == nil {
				releaseYear = y
			}
		}
	}

	// Ties broken by higher confidence then earliest created_at (spec.md
	// §3): a later write at equal-or-lower confidence than the existing
	// row must not clobber it, and created_at is never reassigned on
	// conflict so the original row's creation time survives.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_mappings (external_id, id_type, entity_id, confidence, release_year, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id, id_type) DO UPDATE SET
			entity_id = excluded.entity_id,
			confidence = excluded.confidence,
			release_year = excluded.release_year
		WHERE excluded.confidence > entity_mappings.confidence
			OR (excluded.confidence = entity_mappings.confidence AND excluded.created_at < entity_mappings.created_at)`,
		mapping.ExternalID, string(mapping.IDType), mapping.EntityID, mapping.Confidence, releaseYear,
		mapping.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert entity mapping: %w", err)
	}
	return nil
}

var _ resolver.Store = (*Store)(nil)
