package reco

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/reco/blend"
	"github.com/streamline/gateway/internal/reco/candidates"
	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/pkg/ann"
)

type fakeStore struct {
	interactions map[string][]types.Interaction
	profiles     map[string]types.Profile
	adapters     map[string]types.LoRAAdapter
	genres       map[string][]string
	embeddings   map[string][]float32
	coWatch      map[string]map[string]int
	failHistory  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		interactions: map[string][]types.Interaction{},
		profiles:     map[string]types.Profile{},
		adapters:     map[string]types.LoRAAdapter{},
		genres:       map[string][]string{},
		embeddings:   map[string][]float32{},
		coWatch:      map[string]map[string]int{},
	}
}

func (f *fakeStore) AllInteractions(ctx context.Context) ([]types.Interaction, error) {
	var out []types.Interaction
	for _, v := range f.interactions {
		out = append(out, v...)
	}
	return out, nil
}

func (f *fakeStore) InteractionsByUser(ctx context.Context, userID string) ([]types.Interaction, error) {
	if f.failHistory {
		return nil, errors.New("boom")
	}
	return f.interactions[userID], nil
}

func (f *fakeStore) GetProfile(ctx context.Context, userID string) (types.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return types.Profile{UserID: userID, PreferenceVector: make([]float32, 4)}, nil
}

func (f *fakeStore) GetAdapter(ctx context.Context, userID string) (types.LoRAAdapter, bool, error) {
	a, ok := f.adapters[userID]
	return a, ok, nil
}

func (f *fakeStore) EmbeddingOf(ctx context.Context, entityID string) ([]float32, bool) {
	v, ok := f.embeddings[entityID]
	return v, ok
}

func (f *fakeStore) GenresOf(contentID string) []string { return f.genres[contentID] }
func (f *fakeStore) CastOf(contentID string) []string   { return nil }
func (f *fakeStore) CoWatchNeighbors(contentID string) map[string]int {
	return f.coWatch[contentID]
}

func testBlender() *blend.Blender {
	return blend.New(config.BlenderConfig{
		Weights:            config.BlenderWeights{Collaborative: 1, Content: 1, Graph: 1, Context: 1},
		MMRLambda:          0.5,
		TTLDefault:         config.Duration(time.Hour),
		TTLContextDominant: config.Duration(10 * time.Minute),
	})
}

func TestRecommendBlendsAcrossSources(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.interactions["u1"] = []types.Interaction{
		{UserID: "u1", ContentID: "seen-1", Type: types.InteractionLike, Timestamp: now.Add(-time.Hour)},
	}
	store.embeddings["seen-1"] = []float32{1, 0, 0, 0}
	store.embeddings["cand-1"] = []float32{0.9, 0.1, 0, 0}
	store.genres["cand-1"] = []string{"drama"}

	index := ann.New()
	index.Upsert("cand-1", []float32{0.9, 0.1, 0, 0})
	index.Upsert("cand-2", []float32{0, 1, 0, 0})

	svc := New(store, index, nil, testBlender(), 30*24*time.Hour, 0.7)

	recs, err := svc.Recommend(context.Background(), Request{UserID: "u1", Device: candidates.DeviceMobile, Limit: 10})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	for _, r := range recs {
		if r.ContentID == "seen-1" {
			t.Error("seen content must not be recommended")
		}
	}
}

func TestRecommendSkipsCollaborativeWhenModelUnset(t *testing.T) {
	store := newFakeStore()
	store.interactions["u2"] = []types.Interaction{
		{UserID: "u2", ContentID: "liked-1", Type: types.InteractionLike, Timestamp: time.Now()},
	}
	store.embeddings["liked-1"] = []float32{1, 0, 0, 0}
	index := ann.New()
	index.Upsert("cand-1", []float32{1, 0, 0, 0})

	svc := New(store, index, nil, testBlender(), 30*24*time.Hour, 0.7)
	recs, err := svc.Recommend(context.Background(), Request{UserID: "u2", Limit: 5})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected content-based recommendations even with no collaborative model")
	}
}

func TestRecommendErrorsWhenHistoryLoadFails(t *testing.T) {
	store := newFakeStore()
	store.failHistory = true
	svc := New(store, ann.New(), nil, testBlender(), 30*24*time.Hour, 0.7)

	if _, err := svc.Recommend(context.Background(), Request{UserID: "u1"}); err == nil {
		t.Fatal("expected error when interaction history cannot be loaded")
	}
}

func TestRecommendErrorsWhenAllGeneratorsEmpty(t *testing.T) {
	store := newFakeStore()
	svc := New(store, ann.New(), nil, testBlender(), 30*24*time.Hour, 0.7)

	_, err := svc.Recommend(context.Background(), Request{UserID: "ghost-user"})
	if err == nil {
		t.Fatal("expected error when no generator produces any candidate")
	}
}

func TestSetCollaborativeModelIsUsedByRecommend(t *testing.T) {
	store := newFakeStore()
	store.interactions["u1"] = []types.Interaction{
		{UserID: "u1", ContentID: "c1", Type: types.InteractionLike, Timestamp: time.Now()},
	}
	store.interactions["u2"] = []types.Interaction{
		{UserID: "u2", ContentID: "c1", Type: types.InteractionLike, Timestamp: time.Now()},
		{UserID: "u2", ContentID: "c2", Type: types.InteractionLike, Timestamp: time.Now()},
	}

	svc := New(store, ann.New(), nil, testBlender(), 30*24*time.Hour, 0.7)
	model, err := candidates.Fit(context.Background(), store, candidates.ALSConfig{Iterations: 3, Latent: 4, Alpha: 40, Lambda: 0.05})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	svc.SetCollaborativeModel(model)

	recs, err := svc.Recommend(context.Background(), Request{UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected collaborative candidates once a model is installed")
	}
}
