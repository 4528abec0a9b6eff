package experiment

import (
	"context"
	"time"
)

// MetricType names a recorded event joined to an assignment by
// (experiment_id, variant_id, user_id) (spec.md §4.13).
type MetricType string

const (
	MetricExposure   MetricType = "exposure"
	MetricWatch      MetricType = "watch"
	MetricCompletion MetricType = "completion"
	MetricDismissal  MetricType = "dismissal"
)

// MetricEvent is one recorded event for an experiment/variant/user.
type MetricEvent struct {
	ExperimentID string
	VariantID    string
	UserID       string
	Type         MetricType
	Value        float64
	Timestamp    time.Time
}

// VariantCounts accumulates exposures and conversions for one variant,
// the basis of a conversion-rate computation.
type VariantCounts struct {
	Exposures   int64
	Conversions int64
}

// Store persists assignments and metric events and answers per-variant
// conversion counts. Implementations typically back this with the
// shared relational schema (an experiments/variants/assignments/metrics
// table set, grounded on the Postgres repository shape in
// original_source/crates/sona/tests/experiment_repository_integration_test.rs).
type Store interface {
	RecordAssignment(ctx context.Context, experimentID, variantID, userID string) error
	RecordMetric(ctx context.Context, event MetricEvent) error
	VariantCounts(ctx context.Context, experimentID string, conversionMetric MetricType) (map[string]VariantCounts, error)
}

// Experimenter assigns users to experiment variants and records the
// resulting exposure/metric events against a Store.
type Experimenter struct {
	store Store
	now   func() time.Time
}

// NewExperimenter builds an Experimenter backed by store.
func NewExperimenter(store Store) *Experimenter {
	return &Experimenter{store: store, now: time.Now}
}

// AssignAndRecord assigns userID a variant of exp and records both the
// assignment and an implicit exposure metric event. Returns
// included=false (with no error) if the user falls outside the
// experiment's traffic allocation.
func (e *Experimenter) AssignAndRecord(ctx context.Context, exp Experiment, userID string) (variantID string, included bool, err error) {
	variantID, included = Assign(exp, userID)
	if !included {
		return "", false, nil
	}

	if err := e.store.RecordAssignment(ctx, exp.ID, variantID, userID); err != nil {
		return "", false, err
	}
	if err := e.store.RecordMetric(ctx, MetricEvent{
		ExperimentID: exp.ID,
		VariantID:    variantID,
		UserID:       userID,
		Type:         MetricExposure,
		Value:        1,
		Timestamp:    e.now(),
	}); err != nil {
		return "", false, err
	}

	return variantID, true, nil
}

// RecordMetric records a downstream metric event (watch, completion,
// dismissal) for an already-assigned user.
func (e *Experimenter) RecordMetric(ctx context.Context, experimentID, variantID, userID string, metricType MetricType, value float64) error {
	return e.store.RecordMetric(ctx, MetricEvent{
		ExperimentID: experimentID,
		VariantID:    variantID,
		UserID:       userID,
		Type:         metricType,
		Value:        value,
		Timestamp:    e.now(),
	})
}

// ConversionRates computes conversions/exposures per variant for exp,
// where conversionMetric names which downstream event type counts as a
// conversion (typically MetricCompletion or MetricWatch).
func (e *Experimenter) ConversionRates(ctx context.Context, experimentID string, conversionMetric MetricType) (map[string]float64, error) {
	counts, err := e.store.VariantCounts(ctx, experimentID, conversionMetric)
	if err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(counts))
	for variantID, c := range counts {
		if c.Exposures == 0 {
			rates[variantID] = 0
			continue
		}
		rates[variantID] = float64(c.Conversions) / float64(c.Exposures)
	}
	return rates, nil
}
