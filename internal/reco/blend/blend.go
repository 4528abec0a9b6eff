// Package blend implements the Blender (spec.md §4.11): it merges the
// four candidate generators' output, applies per-source weights, filters
// seen content, rescales by a user's LoRA adapter, diversifies with MMR,
// and attaches explanations and a TTL. Grounded on
// original_source/crates/sona/src/recommendation.rs's GenerateRecommendations
// and original_source/crates/sona/src/diversity.rs's ApplyDiversityFilter.
package blend

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/reco/candidates"
	"github.com/streamline/gateway/internal/types"
)

// EmbeddingSource looks up a content item's embedding for MMR similarity
// and LoRA rescaling. Returns ok=false if the item has no embedding.
type EmbeddingSource func(contentID string) ([]float32, bool)

// LoRAScorer rescales a candidate by how well it fits a user's learned
// low-rank adapter (spec.md §4.12). Implemented by internal/lora; kept
// as an interface here so blend has no import-time dependency on the
// adapter's training machinery.
type LoRAScorer interface {
	Score(contentEmbedding, preferenceVector []float32) float64
}

// loraRescaleFactor is the Blender's LoRA personalization multiplier
// (spec.md §4.11 step 4: "score *= 1 + 0.3 * lora_score(item)").
const loraRescaleFactor = 0.3

// Blender merges candidate-generator output into a final, diversified
// recommendation list.
type Blender struct {
	weights            config.BlenderWeights
	mmrLambda          float64
	ttlDefault         time.Duration
	ttlContextDominant time.Duration
}

// New builds a Blender from the wired BlenderConfig (defaults: CF 0.35,
// content 0.25, graph 0.30, context 0.10, mmr_lambda 0.7, ttl 3600s /
// 600s context-dominant).
func New(cfg config.BlenderConfig) *Blender {
	return &Blender{
		weights:            cfg.Weights,
		mmrLambda:          cfg.MMRLambda,
		ttlDefault:         time.Duration(cfg.TTLDefault),
		ttlContextDominant: time.Duration(cfg.TTLContextDominant),
	}
}

func (b *Blender) weightFor(src candidates.Source) float64 {
	switch src {
	case candidates.SourceCollaborative:
		return b.weights.Collaborative
	case candidates.SourceContent:
		return b.weights.Content
	case candidates.SourceGraph:
		return b.weights.Graph
	case candidates.SourceContext:
		return b.weights.Context
	default:
		return 0
	}
}

// Input bundles everything Blend needs for one user's recommendation
// request.
type Input struct {
	// Sources holds each enabled generator's (already capped) output,
	// keyed by the generator that produced it.
	Sources map[candidates.Source][]candidates.Candidate
	// Seen marks content the user has already watched or dismissed
	// (spec.md §4.11 step 3).
	Seen map[string]bool
	// PreferenceVector is the user's current taste vector
	// (types.Profile.PreferenceVector), passed to Scorer.
	PreferenceVector []float32
	// Scorer rescales by the user's LoRA adapter; nil skips step 4
	// entirely (the user has no adapter yet).
	Scorer LoRAScorer
	// EmbeddingOf resolves a content ID to its embedding, used by both
	// LoRA rescaling and MMR diversification.
	EmbeddingOf EmbeddingSource
	// Limit is the maximum number of recommendations to return.
	Limit int
}

type merged struct {
	contentID      string
	score          float64
	basedOn        []string
	basedOnSet     map[string]bool
	dominantSource candidates.Source
	dominantWeight float64
}

// sourceOrder fixes iteration order over Input.Sources so merge output
// (and therefore MMR tie-breaks) is deterministic across runs.
var sourceOrder = []candidates.Source{
	candidates.SourceCollaborative,
	candidates.SourceContent,
	candidates.SourceGraph,
	candidates.SourceContext,
}

// Blend runs the full pipeline: merge -> filter seen -> LoRA rescale ->
// MMR diversify -> explain -> TTL (spec.md §4.11).
func (b *Blender) Blend(in Input) []types.Recommendation {
	mergedByID := b.mergeCandidates(in.Sources)

	filtered := make([]*merged, 0, len(mergedByID))
	for id, m := range mergedByID {
		if in.Seen[id] {
			continue
		}
		filtered = append(filtered, m)
	}

	if in.Scorer != nil && in.EmbeddingOf != nil {
		for _, m := range filtered {
			emb, ok := in.EmbeddingOf(m.contentID)
			if !ok {
				continue
			}
			loraScore := in.Scorer.Score(emb, in.PreferenceVector)
			m.score *= 1 + loraRescaleFactor*loraScore
		}
	}

	selected := b.diversify(filtered, in.EmbeddingOf, in.Limit)

	now := time.Now()
	ttl := b.ttlDefault
	if contextDominant(selected) {
		ttl = b.ttlContextDominant
	}

	recommendations := make([]types.Recommendation, 0, len(selected))
	for _, m := range selected {
		recommendations = append(recommendations, types.Recommendation{
			ContentID:   m.contentID,
			Score:       m.score,
			BasedOn:     m.basedOn,
			Explanation: explain(m.basedOn),
			GeneratedAt: now,
			TTLSeconds:  int(ttl.Seconds()),
		})
	}
	return recommendations
}

// mergeCandidates applies each source's weight and sums scores per
// content ID, remembering which sources contributed (spec.md §4.11
// steps 1-2), and which source contributed the largest single weighted
// share (used later to decide whether the result is context-dominant).
func (b *Blender) mergeCandidates(sources map[candidates.Source][]candidates.Candidate) map[string]*merged {
	out := map[string]*merged{}

	for _, src := range sourceOrder {
		weight := b.weightFor(src)
		for _, c := range sources[src] {
			weighted := c.Score * weight

			m, ok := out[c.ContentID]
			if !ok {
				m = &merged{contentID: c.ContentID, basedOnSet: map[string]bool{}}
				out[c.ContentID] = m
			}
			m.score += weighted
			if !m.basedOnSet[string(src)] {
				m.basedOnSet[string(src)] = true
				m.basedOn = append(m.basedOn, string(src))
			}
			if weighted > m.dominantWeight {
				m.dominantWeight = weighted
				m.dominantSource = src
			}
		}
	}

	return out
}

// diversify re-ranks candidates by Maximal Marginal Relevance: at each
// step, pick the remaining candidate maximizing
// lambda*relevance - (1-lambda)*max_similarity_to_selected, until limit
// are chosen or candidates run out (diversity.rs's ApplyDiversityFilter,
// λ=0.7 default from BlenderConfig.MMRLambda).
func (b *Blender) diversify(pool []*merged, embeddingOf EmbeddingSource, limit int) []*merged {
	sort.Slice(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	if limit <= 0 || limit > len(pool) {
		limit = len(pool)
	}

	selected := make([]*merged, 0, limit)
	remaining := append([]*merged(nil), pool...)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestMMR := math.Inf(-1)

		for i, candidate := range remaining {
			maxSim := float32(0)
			if len(selected) > 0 && embeddingOf != nil {
				candidateEmb, ok := embeddingOf(candidate.contentID)
				if ok {
					for _, s := range selected {
						selectedEmb, ok := embeddingOf(s.contentID)
						if !ok {
							continue
						}
						sim := cosineSimilarity(candidateEmb, selectedEmb)
						if sim > maxSim {
							maxSim = sim
						}
					}
				}
			}

			mmr := b.mmrLambda*candidate.score - (1-b.mmrLambda)*float64(maxSim)
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// explain renders based_on sources into a human-readable string (mirrors
// recommendation.rs's generate_explanation).
func explain(basedOn []string) string {
	if len(basedOn) == 0 {
		return "Recommended for you"
	}
	return "Based on: " + strings.Join(basedOn, ", ")
}

// contextDominant reports whether context-aware re-weighting was the
// single largest contributor for a majority of the final recommendations
// (spec.md §4.11 step 6: "600s if context-aware dominant").
func contextDominant(selected []*merged) bool {
	if len(selected) == 0 {
		return false
	}
	contextCount := 0
	for _, m := range selected {
		if m.dominantSource == candidates.SourceContext {
			contextCount++
		}
	}
	return contextCount*2 > len(selected)
}
