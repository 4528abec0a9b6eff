package lora

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/streamline/gateway/internal/types"
)

// Engagement label weights (spec.md §4.12, lora.rs's
// calculate_engagement_label): completion 0.4, explicit rating 0.3 (or
// completion proxy at half weight when absent), rewatch bonus 0.2.
const (
	completionWeight = 0.4
	ratingWeight     = 0.3
	rewatchWeight    = 0.2
)

// TrainingEvent is one recent interaction used to fit a user's adapter.
// Rating is a pointer so "no explicit rating" (falling back to the
// completion proxy) is distinguishable from a rating of zero.
type TrainingEvent struct {
	ContentID      string
	Embedding      []float32
	CompletionRate float64 // 0..1
	Rating         *float64 // 1..5, nil if the user didn't rate it
	IsRewatch      bool
}

// engagementLabel converts a TrainingEvent into the [0,1] supervised
// label LoRA training regresses against (lora.rs's
// calculate_engagement_label, ported formula-for-formula).
func engagementLabel(e TrainingEvent) float64 {
	completionScore := 0.5 + (e.CompletionRate-0.3)/1.4

	label := completionScore * completionWeight
	if e.Rating != nil {
		ratingScore := (*e.Rating - 1) / 4
		label += ratingScore * ratingWeight
	} else {
		label += completionScore * ratingWeight * 0.5
	}
	if e.IsRewatch {
		label += rewatchWeight
	}

	return math.Max(0, math.Min(1, label))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Train fits adapter's B matrix against events by gradient descent on a
// binary cross-entropy loss, gated by a minimum event count (spec.md
// §4.12: "Training runs when >= 10 new events since last train"). A is
// left untouched; only B (the user-specific layer) is updated, per
// spec.md's "gradient descent on B only."
func (s *Service) Train(adapter *types.LoRAAdapter, events []TrainingEvent, preferenceVector []float32) bool {
	minEvents := s.cfg.MinEvents
	if minEvents <= 0 {
		minEvents = 10
	}
	if len(events) < minEvents {
		return false
	}

	iterations := s.cfg.Iterations
	if iterations <= 0 {
		iterations = 5
	}
	lr := s.cfg.LearningRate
	if lr <= 0 {
		lr = 0.001
	}

	type pair struct {
		embedding []float32
		label     float64
	}
	pairs := make([]pair, 0, len(events))
	for _, e := range events {
		if len(e.Embedding) != adapter.DIn {
			continue
		}
		pairs = append(pairs, pair{embedding: e.Embedding, label: engagementLabel(e)})
	}
	if len(pairs) == 0 {
		return false
	}

	for iter := 0; iter < iterations; iter++ {
		for _, p := range pairs {
			adapted := Forward(*adapter, p.embedding)

			n := len(adapted)
			if len(preferenceVector) < n {
				n = len(preferenceVector)
			}
			var dot float64
			for i := 0; i < n; i++ {
				dot += float64(adapted[i]) * float64(preferenceVector[i])
			}
			predicted := sigmoid(dot)
			gradientScalar := predicted - p.label

			updateB(adapter, p.embedding, gradientScalar, lr)
		}
	}

	adapter.LastTrainedAt = time.Now()
	adapter.Iterations++
	return true
}

// updateB applies one gradient-descent step to adapter.B, following
// lora.rs's update_user_layer_gradients: the gradient for B[i][j] is
// gradientScalar * intermediate[j], where intermediate = A @ embedding.
func updateB(adapter *types.LoRAAdapter, embedding []float32, gradientScalar, lr float64) {
	xf := make([]float64, len(embedding))
	for i, v := range embedding {
		xf[i] = float64(v)
	}
	xVec := mat.NewVecDense(adapter.DIn, xf)
	a := mat.NewDense(adapter.Rank, adapter.DIn, adapter.A)

	var intermediate mat.VecDense
	intermediate.MulVec(a, xVec)

	for i := 0; i < adapter.DOut; i++ {
		for j := 0; j < adapter.Rank; j++ {
			idx := i*adapter.Rank + j
			gradient := gradientScalar * intermediate.AtVec(j)
			adapter.B[idx] -= lr * gradient
		}
	}
}
