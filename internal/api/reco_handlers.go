package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/reco"
	"github.com/streamline/gateway/internal/reco/candidates"
	"github.com/streamline/gateway/internal/types"
)

type recommendationsResponse struct {
	Recommendations []types.Recommendation `json:"recommendations"`
}

// GetRecommendations handles GET /api/v1/recommendations (spec.md §4.10).
// device and mood are optional hints the client may supply to bias
// context-aware re-weighting; a well-behaved client omits them and gets
// the blender's default weighting.
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n <= 0 {
			WriteAppError(w, r, apperr.New(apperr.KindInvalidInput, "invalid limit query parameter"))
			return
		}
		limit = n
	}

	device := candidates.DeviceType(r.URL.Query().Get("device"))
	var mood []candidates.MoodSignal
	if genre := r.URL.Query().Get("mood_genre"); genre != "" {
		weight := 1.0
		if raw := r.URL.Query().Get("mood_weight"); raw != "" {
			if w, perr := strconv.ParseFloat(raw, 64); perr == nil {
				weight = w
			}
		}
		mood = append(mood, candidates.MoodSignal{Genre: genre, Weight: weight})
	}

	recs, err := h.reco.Recommend(r.Context(), reco.Request{
		UserID:      userID,
		Device:      device,
		MoodSignals: mood,
		Limit:       limit,
	})
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{Recommendations: recs})
}

// interactionRequest records a single view/like/dislike/rating/completion
// signal (spec.md §4.9, §4.10) for both feature-store freshness decay and
// the candidates store history RECO reads back from.
type interactionRequest struct {
	ContentID string                 `json:"content_id"`
	Type      types.InteractionType  `json:"type"`
	Progress  float64                `json:"progress,omitempty"`
	Rating    float64                `json:"rating,omitempty"`
	Genres    []string               `json:"genres,omitempty"`
}

type interactionResponse struct {
	FeatureWeight float64 `json:"feature_weight"`
}

// RecordInteraction handles POST /api/v1/interactions.
func (h *Handler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "missing caller identity")
		return
	}

	var req interactionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteAppError(w, r, err)
		return
	}
	if req.ContentID == "" {
		WriteAppError(w, r, apperr.New(apperr.KindInvalidInput, "content_id is required"))
		return
	}

	in := types.Interaction{
		UserID:    userID,
		ContentID: req.ContentID,
		Type:      req.Type,
		Progress:  req.Progress,
		Rating:    req.Rating,
		Timestamp: time.Now().UTC(),
	}

	if err := h.catalogStore.RecordInteraction(r.Context(), in); err != nil {
		WriteAppError(w, r, err)
		return
	}
	weight, err := h.features.Apply(r.Context(), in, req.Genres)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionResponse{FeatureWeight: weight})
}
