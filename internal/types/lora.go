package types

import "time"

// LoRARank is the fixed low-rank dimension shared by every adapter
// (spec.md §3). Scale is alpha/rank applied to the forward pass output.
const (
	LoRARank  = 8
	LoRAAlpha = 16
)

// LoRAAdapter is a per-user low-rank adapter on top of the shared blend
// scoring function (spec.md §3, §4.12): y = x + scale * (x @ A^T) @ B^T.
// A and B are stored row-major, flattened, so the type stays a plain value
// the SyncStore-adjacent persistence layer can serialize without a matrix
// library dependency; internal/lora reshapes into gonum.org/v1/gonum/mat
// matrices for the actual math.
type LoRAAdapter struct {
	UserID        string    `json:"user_id"`
	Rank          int       `json:"rank"`
	DIn           int       `json:"d_in"`
	DOut          int       `json:"d_out"`
	A             []float64 `json:"a"` // rank x d_in, row-major
	B             []float64 `json:"b"` // d_out x rank, row-major
	Scale         float64   `json:"scale"`
	LastTrainedAt time.Time `json:"last_trained_at"`
	Iterations    int       `json:"iterations"`
}

// Trained reports whether the adapter has undergone at least one training
// pass (an untrained adapter's B is all zeros and acts as identity).
func (a LoRAAdapter) Trained() bool {
	return a.Iterations > 0
}
