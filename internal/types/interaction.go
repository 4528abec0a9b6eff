package types

import "time"

// InteractionType enumerates the signals RECO learns from (spec.md §3).
type InteractionType string

const (
	InteractionView       InteractionType = "view"
	InteractionLike       InteractionType = "like"
	InteractionDislike    InteractionType = "dislike"
	InteractionRating     InteractionType = "rating"
	InteractionCompletion InteractionType = "completion"
)

// Interaction is a single user-content signal.
type Interaction struct {
	UserID    string          `json:"user_id"`
	ContentID string          `json:"content_id"`
	Type      InteractionType `json:"type"`
	Progress  float64         `json:"progress,omitempty"` // 0..1, View only
	Rating    float64         `json:"rating,omitempty"`   // 0..5, Rating only
	Timestamp time.Time       `json:"ts"`
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ImplicitRating converts an interaction into the [0,1] implicit feedback
// signal the candidate generators train on (spec.md §3): Like=1.0,
// Completion=1.0, View(progress p)=clamp(0.2,1.0,p), Rating(v)=v/5.
func (i Interaction) ImplicitRating() float64 {
	switch i.Type {
	case InteractionLike:
		return 1.0
	case InteractionCompletion:
		return 1.0
	case InteractionDislike:
		return 0.0
	case InteractionView:
		return clamp(i.Progress, 0.2, 1.0)
	case InteractionRating:
		return clamp(i.Rating, 0, 5) / 5.0
	default:
		return 0
	}
}

// TemporalContext captures the time-of-day / day-of-week bucket used for
// context-aware candidate reweighting (spec.md §4.10).
type TemporalContext struct {
	HourOfDay int `json:"hour_of_day"`
	DayOfWeek int `json:"day_of_week"`
}

// Profile is a user's learned taste representation (spec.md §3). Bound:
// affinities normalized to [0,1]; PreferenceVector has unit norm after
// every update.
type Profile struct {
	UserID           string             `json:"user_id"`
	PreferenceVector []float32          `json:"preference_vector"`
	GenreAffinities  map[string]float32 `json:"genre_affinities"`
	TemporalContext  TemporalContext    `json:"temporal_context"`
	InteractionCount int64              `json:"interaction_count"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PreferenceVectorDim is the fixed dimensionality D of a profile's
// preference vector (spec.md §3).
const PreferenceVectorDim = 512
