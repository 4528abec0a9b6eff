package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/streamline/gateway/internal/experiment"
)

// RecordAssignment satisfies internal/experiment.Store.
func (s *Store) RecordAssignment(ctx context.Context, experimentID, variantID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_assignments (experiment_id, variant_id, user_id, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (experiment_id, user_id) DO NOTHING`,
		experimentID, variantID, userID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record assignment: %w", err)
	}
	return nil
}

// RecordMetric satisfies internal/experiment.Store.
func (s *Store) RecordMetric(ctx context.Context, event experiment.MetricEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_metrics (experiment_id, variant_id, user_id, metric_type, value, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExperimentID, event.VariantID, event.UserID, string(event.Type), event.Value,
		event.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// VariantCounts satisfies internal/experiment.Store: exposures come from
// MetricExposure events, conversions from conversionMetric events, both
// grouped by variant in one pass over experiment_metrics.
func (s *Store) VariantCounts(ctx context.Context, experimentID string, conversionMetric experiment.MetricType) (map[string]experiment.VariantCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, metric_type, COUNT(*)
		FROM experiment_metrics
		WHERE experiment_id = ? AND metric_type IN (?, ?)
		GROUP BY variant_id, metric_type`,
		experimentID, string(experiment.MetricExposure), string(conversionMetric))
	if err != nil {
		return nil, fmt.Errorf("query variant counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]experiment.VariantCounts)
	for rows.Next() {
		var variantID, metricType string
		var count int64
		if err := rows.Scan(&variantID, &metricType, &count); err != nil {
			return nil, fmt.Errorf("scan variant count: %w", err)
		}
		c := out[variantID]
		switch experiment.MetricType(metricType) {
		case experiment.MetricExposure:
			c.Exposures = count
		case conversionMetric:
			c.Conversions = count
		}
		out[variantID] = c
	}
	return out, rows.Err()
}

var _ experiment.Store = (*Store)(nil)
