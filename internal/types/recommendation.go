package types

import "time"

// Recommendation is one blended, diversified recommendation served to a
// user (spec.md §4.11).
type Recommendation struct {
	ContentID      string    `json:"content_id"`
	Score          float64   `json:"score"`
	BasedOn        []string  `json:"based_on"`
	Explanation    string    `json:"explanation"`
	GeneratedAt    time.Time `json:"generated_at"`
	TTLSeconds     int       `json:"ttl_seconds"`
	ExperimentID   string    `json:"experiment_id,omitempty"`
	VariantID      string    `json:"variant_id,omitempty"`
}
