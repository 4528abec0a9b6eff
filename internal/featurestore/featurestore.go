// Package featurestore maintains per-user taste profiles (spec.md §3's
// "User profile": preference_vector, genre_affinities, temporal_context,
// interaction_count), the component spec.md's table names FeatureStore.
// Update semantics (engagement weighting, temporal decay) are grounded on
// original_source/crates/sona/src/tests/profile_test.rs, the only trace
// of the profile-building algorithm the distillation carried over — the
// Rust implementation itself (profile.rs) was not part of the retrieval
// pack, so the exact constants below (decay rate 0.95, 0.3 minimum watch
// threshold) are taken directly from that test file.
package featurestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/streamline/gateway/internal/types"
)

// minWatchThreshold is the minimum completion fraction a view needs to
// count toward the profile at all (profile_test.rs: "events with
// completion_rate < 0.3 should be filtered out").
const minWatchThreshold = 0.3

// Store is the persistence contract Service needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (types.Profile, error)
	SaveProfile(ctx context.Context, p types.Profile) error
	RecordInteraction(ctx context.Context, in types.Interaction) error
}

// EmbeddingSource resolves a content_id to its catalog embedding.
type EmbeddingSource func(contentID string) ([]float32, bool)

// Service applies interactions to user profiles: EMA-blending the
// interacted content's embedding into the preference vector, multiplying
// the affinity of each genre absent from the interaction by decayRate, and
// incrementing interaction_count. Decay is applied once per applied
// interaction, whatever time has passed since the last one; halfLife is
// stored but not read.
type Service struct {
	store          Store
	embeddingOf    EmbeddingSource
	decayRate      float64
	halfLife       time.Duration
	minWatchThresh float64
	now            func() time.Time
}

// New builds a Service from config.FeatureStoreConfig's decay settings.
func New(store Store, embeddingOf EmbeddingSource, decayRate float64, halfLife time.Duration, minWatchThresh float64) *Service {
	if decayRate <= 0 {
		decayRate = 0.95
	}
	if halfLife <= 0 {
		halfLife = 30 * 24 * time.Hour
	}
	if minWatchThresh <= 0 {
		minWatchThresh = minWatchThreshold
	}
	return &Service{store: store, embeddingOf: embeddingOf, decayRate: decayRate, halfLife: halfLife, minWatchThresh: minWatchThresh, now: time.Now}
}

// Apply records an interaction and, if it carries enough engagement
// signal, updates the user's profile. Returns the interaction's
// ImplicitRating-derived engagement weight (0 when the interaction was
// recorded but didn't meet the engagement bar) for callers that want to
// log it.
func (s *Service) Apply(ctx context.Context, in types.Interaction, genres []string) (float64, error) {
	if err := s.store.RecordInteraction(ctx, in); err != nil {
		return 0, fmt.Errorf("record interaction: %w", err)
	}

	weight := s.engagementWeight(in)
	if weight <= 0 {
		return 0, nil
	}

	profile, err := s.store.GetProfile(ctx, in.UserID)
	if err != nil {
		return 0, fmt.Errorf("get profile: %w", err)
	}

	s.blendEmbedding(&profile, in.ContentID, weight)
	s.blendGenres(&profile, genres, weight)
	profile.TemporalContext = types.TemporalContext{HourOfDay: in.Timestamp.Hour(), DayOfWeek: int(in.Timestamp.Weekday())}
	profile.InteractionCount++
	profile.UpdatedAt = s.now().UTC()

	if err := s.store.SaveProfile(ctx, profile); err != nil {
		return 0, fmt.Errorf("save profile: %w", err)
	}
	return weight, nil
}

// engagementWeight is the per-interaction blend strength: View
// interactions below minWatchThresh contribute nothing (profile_test.rs's
// MIN_WATCH_THRESHOLD filter); every other interaction type uses its
// ImplicitRating directly, since Like/Dislike/Completion/Rating are
// already explicit signals with no completion-rate ambiguity.
func (s *Service) engagementWeight(in types.Interaction) float64 {
	if in.Type == types.InteractionView && in.Progress < s.minWatchThresh {
		return 0
	}
	return in.ImplicitRating()
}

// blendEmbedding exponentially blends contentID's embedding into the
// profile's preference vector and re-normalizes to unit norm (spec.md §3
// bound: "vector has unit norm after update"). Unknown content (no
// embedding yet, e.g. still queued by the embedding worker) leaves the
// vector untouched.
func (s *Service) blendEmbedding(p *types.Profile, contentID string, weight float64) {
	if s.embeddingOf == nil {
		return
	}
	emb, ok := s.embeddingOf(contentID)
	if !ok || len(emb) == 0 {
		return
	}
	if len(p.PreferenceVector) != len(emb) {
		p.PreferenceVector = make([]float32, len(emb))
	}

	alpha := float32(weight * (1 - s.decayRate))
	for i, v := range emb {
		p.PreferenceVector[i] = p.PreferenceVector[i]*float32(s.decayRate) + v*alpha
	}
	normalize(p.PreferenceVector)
}

// blendGenres EMA-updates each genre's affinity toward 1 (present in this
// interaction) or leaves it to decay toward 0 otherwise, bounded to
// [0,1] (spec.md §3).
func (s *Service) blendGenres(p *types.Profile, genres []string, weight float64) {
	if p.GenreAffinities == nil {
		p.GenreAffinities = map[string]float32{}
	}
	present := make(map[string]bool, len(genres))
	for _, g := range genres {
		present[g] = true
	}

	alpha := float32(weight * (1 - s.decayRate))
	for g := range p.GenreAffinities {
		if present[g] {
			continue
		}
		p.GenreAffinities[g] *= float32(s.decayRate)
	}
	for g := range present {
		v := p.GenreAffinities[g]*float32(s.decayRate) + alpha
		if v > 1 {
			v = 1
		}
		if v < 0 {
			v = 0
		}
		p.GenreAffinities[g] = v
	}
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
