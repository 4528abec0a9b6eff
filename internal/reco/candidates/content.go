package candidates

import (
	"math"
	"time"

	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/pkg/ann"
)

// ContentGenerator ranks candidates by embedding similarity to a user's
// taste vector (spec.md §4.10), using the ANN index built from content
// embeddings (internal/embedding, pkg/ann).
type ContentGenerator struct {
	index *ann.Index
}

// NewContentGenerator wraps an already-populated ANN index.
func NewContentGenerator(index *ann.Index) *ContentGenerator {
	return &ContentGenerator{index: index}
}

// UserVector computes a taste vector for a user as a recency- and
// engagement-weighted average of the embeddings of content the user has
// interacted with positively (spec.md §4.10). Interactions older than
// recencyHalfLife contribute proportionally less; ImplicitRating scales
// each term by how strongly the user engaged.
func UserVector(interactions []types.Interaction, embeddingOf func(contentID string) ([]float32, bool), now time.Time, recencyHalfLife time.Duration) []float32 {
	var dim int
	sum := map[int]float64{}
	var weightTotal float64
	var haveDim bool

	for _, in := range interactions {
		rating := in.ImplicitRating()
		if rating <= 0 {
			continue
		}
		emb, ok := embeddingOf(in.ContentID)
		if !ok || len(emb) == 0 {
			continue
		}
		if !haveDim {
			dim = len(emb)
			haveDim = true
		}

		age := now.Sub(in.Timestamp)
		recencyWeight := 1.0
		if recencyHalfLife > 0 && age > 0 {
			halfLives := float64(age) / float64(recencyHalfLife)
			recencyWeight = math.Exp2(-halfLives)
		}
		weight := rating * recencyWeight

		for i, v := range emb {
			sum[i] += float64(v) * weight
		}
		weightTotal += weight
	}

	if !haveDim || weightTotal == 0 {
		return nil
	}

	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		out[i] = float32(sum[i] / weightTotal)
	}
	return out
}

// Generate returns up to limit candidates nearest to the user's taste
// vector, excluding contentID already seen (watched or dismissed).
func (g *ContentGenerator) Generate(userVector []float32, seen map[string]bool, limit int) []Candidate {
	if len(userVector) == 0 || g.index == nil {
		return nil
	}

	matches := g.index.Search(userVector, limit, "", func(id string) bool { return !seen[id] })
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, Candidate{ContentID: m.ID, Score: float64(m.Score), Source: SourceContent})
	}
	return out
}
