package candidates

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/streamline/gateway/internal/types"
)

// ALSConfig controls the implicit-feedback ALS factorization (spec.md
// §4.10: "iterations=10-20, latent=16-64, alpha~40, regularization~0.05").
type ALSConfig struct {
	Iterations int
	Latent     int
	Alpha      float64
	Lambda     float64
}

// DefaultALSConfig matches spec.md §4.10's suggested midpoint parameters.
var DefaultALSConfig = ALSConfig{Iterations: 15, Latent: 32, Alpha: 40, Lambda: 0.05}

// InteractionSource supplies the implicit-feedback matrix training data:
// every interaction across all users, used to fit user/item factors.
type InteractionSource interface {
	AllInteractions(ctx context.Context) ([]types.Interaction, error)
}

// obs is one observed (entity, counterpart) confidence weight, used for
// both the per-user and per-item observation lists that drive ALS's
// alternating normal-equation solves.
type obs struct {
	user, item int
	confidence float64
}

// Model holds fitted user and item latent factors from implicit ALS
// (Hu/Koren/Volinsky), alternating between solving for user factors with
// item factors fixed and vice versa.
type Model struct {
	cfg ALSConfig

	userIndex map[string]int
	itemIndex map[string]int
	items     []string

	userFactors *mat.Dense // n_users x k
	itemFactors *mat.Dense // n_items x k
}

// Fit trains a Model from every interaction in src. Confidence for an
// observed (user, item) pair is 1 + alpha*r, r the interaction's implicit
// rating (spec.md §3's ImplicitRating, §4.10's alpha).
func Fit(ctx context.Context, src InteractionSource, cfg ALSConfig) (*Model, error) {
	interactions, err := src.AllInteractions(ctx)
	if err != nil {
		return nil, err
	}
	return FitFromInteractions(interactions, cfg), nil
}

// FitFromInteractions is Fit without the InteractionSource indirection,
// for tests and for callers that already hold the interaction set.
func FitFromInteractions(interactions []types.Interaction, cfg ALSConfig) *Model {
	if cfg.Iterations <= 0 {
		cfg = DefaultALSConfig
	}

	userIndex := map[string]int{}
	itemIndex := map[string]int{}
	var observations []obs

	for _, in := range interactions {
		r := in.ImplicitRating()
		if r <= 0 {
			continue
		}
		ui, ok := userIndex[in.UserID]
		if !ok {
			ui = len(userIndex)
			userIndex[in.UserID] = ui
		}
		ii, ok := itemIndex[in.ContentID]
		if !ok {
			ii = len(itemIndex)
			itemIndex[in.ContentID] = ii
		}
		observations = append(observations, obs{user: ui, item: ii, confidence: 1 + cfg.Alpha*r})
	}

	items := make([]string, len(itemIndex))
	for id, idx := range itemIndex {
		items[idx] = id
	}

	nUsers, nItems, k := len(userIndex), len(itemIndex), cfg.Latent
	m := &Model{cfg: cfg, userIndex: userIndex, itemIndex: itemIndex, items: items}

	if nUsers == 0 || nItems == 0 {
		m.userFactors = mat.NewDense(0, k, nil)
		m.itemFactors = mat.NewDense(0, k, nil)
		return m
	}

	byUser := make([][]obs, nUsers)
	byItem := make([][]obs, nItems)
	for _, o := range observations {
		byUser[o.user] = append(byUser[o.user], o)
		byItem[o.item] = append(byItem[o.item], o)
	}

	rng := rand.New(rand.NewSource(42))
	userFactors := randomFactors(rng, nUsers, k)
	itemFactors := randomFactors(rng, nItems, k)

	for iter := 0; iter < cfg.Iterations; iter++ {
		solveFactors(userFactors, itemFactors, byUser, cfg.Lambda)
		solveFactors(itemFactors, userFactors, byItem, cfg.Lambda)
	}

	m.userFactors = userFactors
	m.itemFactors = itemFactors
	return m
}

func randomFactors(rng *rand.Rand, n, k int) *mat.Dense {
	data := make([]float64, n*k)
	for i := range data {
		data[i] = rng.NormFloat64() * 0.1
	}
	return mat.NewDense(n, k, data)
}

// solveFactors updates target's rows (one per entity, e.g. users) by
// solving the implicit-ALS normal equations with fixed's rows (e.g.
// items) as the basis, per-entity observation lists in byTarget indexed
// the same way target's rows are.
func solveFactors(target, fixed *mat.Dense, byTarget [][]obs, lambda float64) {
	n, k := target.Dims()
	nFixed, _ := fixed.Dims()

	// YtY = fixed^T * fixed (k x k), shared across every target row.
	var YtY mat.Dense
	YtY.Mul(fixed.T(), fixed)
	for d := 0; d < k; d++ {
		YtY.Set(d, d, YtY.At(d, d)+lambda)
	}

	for row := 0; row < n; row++ {
		obsList := byTarget[row]
		if len(obsList) == 0 {
			continue
		}
		A := mat.DenseCopyOf(&YtY)
		b := mat.NewVecDense(k, nil)

		for _, o := range obsList {
			fixedIdx := o.item
			if fixedIdx >= nFixed {
				continue
			}
			v := mat.NewVecDense(k, mat.Row(nil, fixedIdx, fixed))
			// A += (c - 1) * v v^T
			var outer mat.Dense
			outer.Outer(o.confidence-1, v, v)
			A.Add(A, &outer)
			// b += c * v
			var scaled mat.VecDense
			scaled.ScaleVec(o.confidence, v)
			b.AddVec(b, &scaled)
		}

		var x mat.VecDense
		if err := x.SolveVec(A, b); err != nil {
			continue // singular system for this row; leave its factors at init
		}
		for d := 0; d < k; d++ {
			target.Set(row, d, x.AtVec(d))
		}
	}
}

// Recommend returns up to limit unseen items for userID, ranked by dot
// product of user and item factors (spec.md §4.10). Cold users (not in
// the training set) fall back to popularity, approximated here by item
// factor norm as a stand-in ordering when no collaborative signal exists.
func (m *Model) Recommend(userID string, seen map[string]bool, limit int) []Candidate {
	ui, ok := m.userIndex[userID]
	if !ok {
		return m.popularityFallback(seen, limit)
	}

	userRow := mat.Row(nil, ui, m.userFactors)
	var scored []Candidate
	for itemID, ii := range m.itemIndex {
		if seen[itemID] {
			continue
		}
		itemRow := mat.Row(nil, ii, m.itemFactors)
		score := dot(userRow, itemRow)
		scored = append(scored, Candidate{ContentID: itemID, Score: score, Source: SourceCollaborative})
	}
	return topK(scored, limit)
}

// popularityFallback ranks items by their factor vector norm, a proxy for
// how much latent "mass" ALS assigned an item across all users: items
// many users implicitly engaged with accumulate larger norms.
func (m *Model) popularityFallback(seen map[string]bool, limit int) []Candidate {
	var scored []Candidate
	for itemID, ii := range m.itemIndex {
		if seen[itemID] {
			continue
		}
		row := mat.Row(nil, ii, m.itemFactors)
		scored = append(scored, Candidate{ContentID: itemID, Score: norm(row), Source: SourceCollaborative})
	}
	return topK(scored, limit)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(a []float64) float64 {
	return dot(a, a)
}

func topK(candidates []Candidate, k int) []Candidate {
	sortCandidatesDesc(candidates)
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
