// Package lora implements the per-user LoRA Service (spec.md §4.12):
// a low-rank adapter that personalizes the shared blend scoring function,
// trained online from a user's recent interactions. Grounded on
// original_source/crates/sona/src/lora.rs (UserLoRAAdapter,
// ComputeLoRAForward, UpdateUserLoRA, compute_lora_score).
package lora

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/types"
)

// Service builds and trains LoRA adapters per the wired LoRAConfig
// (rank=8, alpha=16, lr=0.001, min_events=10, iterations=5 by default).
type Service struct {
	cfg config.LoRAConfig
	dim int
}

// NewService builds a Service. dim is the adapter's input/output
// dimension — this repo's forward pass is a residual
// (y = x + scale*(x@A^T)@B^T), so unlike original_source/crates/sona's
// two-tier 512->768 adapter, d_in and d_out must match; dim is normally
// types.PreferenceVectorDim.
func NewService(cfg config.LoRAConfig, dim int) *Service {
	return &Service{cfg: cfg, dim: dim}
}

// NewAdapter builds a fresh adapter for userID. B (the user-specific
// layer) starts at all zeros, so the forward pass is the identity until
// the first training pass (spec.md §3: "an untrained adapter's B is all
// zeros and acts as identity"); A (the shared base layer) is Xavier-
// initialized so there's a nonzero gradient signal for B to train
// against (lora.rs's initialize_random, applied to the base layer only
// here since the user layer must start at identity).
func (s *Service) NewAdapter(userID string) types.LoRAAdapter {
	rank := s.cfg.Rank
	if rank <= 0 {
		rank = types.LoRARank
	}
	alpha := s.cfg.Alpha
	if alpha <= 0 {
		alpha = types.LoRAAlpha
	}

	stddev := math.Sqrt(2.0 / float64(rank+s.dim))
	a := make([]float64, rank*s.dim)
	for i := range a {
		a[i] = rand.NormFloat64() * stddev
	}

	return types.LoRAAdapter{
		UserID: userID,
		Rank:   rank,
		DIn:    s.dim,
		DOut:   s.dim,
		A:      a,
		B:      make([]float64, s.dim*rank),
		Scale:  float64(alpha) / float64(rank),
	}
}

// Forward computes the adapter's forward pass y = x + scale*(x@A^T)@B^T
// (types.LoRAAdapter's documented formula). Returns x unchanged if the
// adapter is untrained or dimensions don't match.
func Forward(adapter types.LoRAAdapter, x []float32) []float32 {
	if len(x) != adapter.DIn || adapter.DIn != adapter.DOut || len(adapter.A) == 0 || len(adapter.B) == 0 {
		return x
	}

	xf := make([]float64, len(x))
	for i, v := range x {
		xf[i] = float64(v)
	}
	xVec := mat.NewVecDense(adapter.DIn, xf)

	a := mat.NewDense(adapter.Rank, adapter.DIn, adapter.A)
	b := mat.NewDense(adapter.DOut, adapter.Rank, adapter.B)

	var intermediate mat.VecDense
	intermediate.MulVec(a, xVec)

	var delta mat.VecDense
	delta.MulVec(b, &intermediate)

	out := make([]float32, adapter.DOut)
	for i := 0; i < adapter.DOut; i++ {
		out[i] = x[i] + float32(adapter.Scale*delta.AtVec(i))
	}
	return out
}

// Score computes the LoRA personalization score the Blender multiplies
// into a candidate's weighted score (spec.md §4.11,
// compute_lora_score): the adapted embedding's dot product with the
// user's preference vector, clamped to [-1, 1].
func (s *Service) Score(adapter types.LoRAAdapter, contentEmbedding, preferenceVector []float32) float64 {
	adapted := Forward(adapter, contentEmbedding)
	n := len(adapted)
	if len(preferenceVector) < n {
		n = len(preferenceVector)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(adapted[i]) * float64(preferenceVector[i])
	}
	return math.Max(-1, math.Min(1, dot))
}

// AdapterScorer adapts a single fixed adapter to the blend.LoRAScorer
// interface, so internal/reco/blend can rescale without importing this
// package's training machinery.
type AdapterScorer struct {
	Service *Service
	Adapter types.LoRAAdapter
}

// Score implements blend.LoRAScorer.
func (a AdapterScorer) Score(contentEmbedding, preferenceVector []float32) float64 {
	return a.Service.Score(a.Adapter, contentEmbedding, preferenceVector)
}
