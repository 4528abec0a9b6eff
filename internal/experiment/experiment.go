// Package experiment implements the Experimenter (spec.md §4.13):
// deterministic hash-based variant assignment, exposure/metric recording,
// and conversion-rate computation for A/B tests layered on top of RECO's
// blended recommendations. Grounded on the experiment/variant/assignment/
// metric data model in
// original_source/crates/sona/tests/experiment_repository_integration_test.rs
// (no Go-shaped assignment algorithm exists in the corpus; the hash
// bucketing itself follows spec.md §4.13's formula directly).
package experiment

import (
	"github.com/cespare/xxhash/v2"
)

// Variant is one arm of an experiment, weighted for traffic allocation.
type Variant struct {
	ID     string
	Name   string
	Weight float64
	Config map[string]any
}

// Experiment is an A/B test definition: a set of weighted variants and
// what fraction of eligible users participate at all.
type Experiment struct {
	ID                string
	Name              string
	Variants          []Variant
	TrafficAllocation float64 // 0..1, fraction of users included at all
	Status            string  // "draft", "running", "completed"
}

// bucketPrecision scales fractional variant weights into integer units
// so hash-modulo bucketing is exact regardless of how weights are
// specified (spec.md §4.13: "bucketed by cumulative weight").
const bucketPrecision = 1_000_000

// Assign deterministically assigns userID to one of experiment's
// variants, or reports included=false if the user falls outside the
// experiment's traffic allocation (spec.md §4.13: "variant =
// variants[hash(user_id || experiment_id) mod sum(weights)]").
// Assignment is a pure function of (userID, experiment): the same pair
// always yields the same variant, so repeated calls (retries, re-renders)
// never flip a user between arms.
func Assign(exp Experiment, userID string) (variantID string, included bool) {
	if !isIncluded(exp, userID) {
		return "", false
	}

	totalUnits := int64(0)
	units := make([]int64, len(exp.Variants))
	for i, v := range exp.Variants {
		u := int64(v.Weight * bucketPrecision)
		if u < 0 {
			u = 0
		}
		units[i] = u
		totalUnits += u
	}
	if totalUnits == 0 {
		return "", false
	}

	h := xxhash.Sum64String(userID + "|" + exp.ID + "|variant")
	bucket := int64(h % uint64(totalUnits))

	var cumulative int64
	for i, v := range exp.Variants {
		cumulative += units[i]
		if bucket < cumulative {
			return v.ID, true
		}
	}
	// Rounding can leave the last unit short of totalUnits; fall back to
	// the final variant rather than leaving the user unassigned.
	return exp.Variants[len(exp.Variants)-1].ID, true
}

// isIncluded decides, independent of variant assignment, whether userID
// participates in exp at all — a separate hash so traffic-allocation
// changes don't reshuffle which variant an already-included user sees.
func isIncluded(exp Experiment, userID string) bool {
	if exp.TrafficAllocation <= 0 {
		return false
	}
	if exp.TrafficAllocation >= 1 {
		return true
	}
	h := xxhash.Sum64String(userID + "|" + exp.ID + "|inclusion")
	threshold := uint64(exp.TrafficAllocation * bucketPrecision)
	return h%bucketPrecision < threshold
}
