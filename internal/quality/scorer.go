// Package quality implements QualityScorer (spec.md §4.9): a weighted
// completeness score over a content record's fields, decayed by staleness,
// used both for ranking and for low-quality flagging in catalog reports.
package quality

import (
	"math"
	"time"

	"github.com/streamline/gateway/internal/types"
)

// indicatorCount is the number of completeness indicators spec.md §4.9
// names: description, poster, backdrop, year, runtime, genres, rating,
// external_ids.
const indicatorCount = 8

// defaultIndicatorWeight gives every indicator equal weight summing to
// 1.0, the simplest reading of spec.md §4.9's "default weights sum to
// 1.0" with no indicator singled out as more important than another (see
// DESIGN.md Open Question decisions).
const defaultIndicatorWeight = 1.0 / indicatorCount

// lowQualityThreshold is the score below which a content record is
// flagged in catalog quality reports.
const lowQualityThreshold = 0.4

// Weights holds the per-indicator weights used for the base completeness
// score. A caller that wants to emphasize certain fields can build a
// custom Weights and pass it to NewScorer instead of DefaultWeights.
type Weights struct {
	Description float64
	Poster      float64
	Backdrop    float64
	Year        float64
	Runtime     float64
	Genres      float64
	Rating      float64
	ExternalIDs float64
}

// DefaultWeights gives every indicator equal weight (spec.md §4.9).
var DefaultWeights = Weights{
	Description: defaultIndicatorWeight,
	Poster:      defaultIndicatorWeight,
	Backdrop:    defaultIndicatorWeight,
	Year:        defaultIndicatorWeight,
	Runtime:     defaultIndicatorWeight,
	Genres:      defaultIndicatorWeight,
	Rating:      defaultIndicatorWeight,
	ExternalIDs: defaultIndicatorWeight,
}

// Scorer computes completeness + freshness-decayed quality scores
// (spec.md §4.9).
type Scorer struct {
	weights Weights
	lambda  float64
	floor   float64
	now     func() time.Time
}

// New builds a Scorer from config.QualityConfig's freshness parameters
// (λ, floor) and the default indicator weights.
func New(lambda, floor float64) *Scorer {
	return NewWithWeights(DefaultWeights, lambda, floor)
}

// NewWithWeights builds a Scorer with custom indicator weights.
func NewWithWeights(weights Weights, lambda, floor float64) *Scorer {
	return &Scorer{weights: weights, lambda: lambda, floor: floor, now: time.Now}
}

// Score is the result of scoring one content record: the raw
// completeness base score, and the freshness-decayed final score used
// for ranking (spec.md §4.9).
type Score struct {
	Base       float64
	Final      float64
	LowQuality bool
}

// BaseScore computes Σ weight_i · indicator_i over the eight indicators
// spec.md §4.9 names, each indicator 1 if the field is present/non-zero,
// 0 otherwise, except genres which scores proportionally up to 3 genres
// (a single-genre record is "present" but less complete than a
// well-tagged one).
func (s *Scorer) BaseScore(c types.Content) float64 {
	var base float64
	base += s.weights.Description * presence(c.Overview != "")
	base += s.weights.Poster * presence(c.Images.Poster != "")
	base += s.weights.Backdrop * presence(c.Images.Backdrop != "")
	base += s.weights.Year * presence(c.ReleaseYear > 0)
	base += s.weights.Runtime * presence(c.RuntimeMinutes > 0)
	base += s.weights.Genres * genresIndicator(c.Genres)
	base += s.weights.Rating * presence(c.Ratings > 0)
	base += s.weights.ExternalIDs * presence(c.ExternalIDs.IMDb != "" || c.ExternalIDs.TMDB != "" || c.ExternalIDs.EIDR != "")
	return base
}

// Score computes the full Score for c: base completeness, then freshness
// decay: score_final = max(base * exp(-λ*days), base * floor), with
// days measured since c.UpdatedAt (spec.md §4.9).
func (s *Scorer) Score(c types.Content) Score {
	base := s.BaseScore(c)
	days := s.now().Sub(c.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decayed := base * math.Exp(-s.lambda*days)
	floor := base * s.floor
	final := math.Max(decayed, floor)
	return Score{Base: base, Final: final, LowQuality: final < lowQualityThreshold}
}

func presence(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

// genresIndicator scores genre completeness proportionally: 0 genres is
// absent, 3 or more is fully complete, in between scales linearly.
func genresIndicator(genres []string) float64 {
	const fullyTagged = 3
	if len(genres) == 0 {
		return 0
	}
	if len(genres) >= fullyTagged {
		return 1
	}
	return float64(len(genres)) / float64(fullyTagged)
}
