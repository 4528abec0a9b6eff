// Package reco orchestrates the four candidate generators and the
// Blender into one recommendation pull (spec.md §4.10-§4.11), fanning
// out with a soft per-generator deadline (spec.md §5: "generators that
// miss the deadline are dropped and the blend proceeds with whatever
// arrived, provided >=1 source returned"). Nothing in the teacher plays
// this role directly; the generators run in parallel under one shared
// context.WithTimeout deadline.
package reco

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/streamline/gateway/internal/apperr"
	"github.com/streamline/gateway/internal/lora"
	"github.com/streamline/gateway/internal/reco/blend"
	"github.com/streamline/gateway/internal/reco/candidates"
	"github.com/streamline/gateway/internal/types"
	"github.com/streamline/gateway/pkg/ann"
)

// genDeadline is the soft per-generator deadline spec.md §5 sets.
const genDeadline = 300 * time.Millisecond

// seedLimit bounds how many recent positively-rated interactions seed
// the graph traversal generator (spec.md §4.10's traversal starts from
// "a user's recently watched/liked content").
const seedLimit = 20

// Store is the catalog surface the orchestrator needs, satisfied
// structurally by internal/catalog.Store.
type Store interface {
	candidates.InteractionSource
	candidates.GraphSource
	InteractionsByUser(ctx context.Context, userID string) ([]types.Interaction, error)
	GetProfile(ctx context.Context, userID string) (types.Profile, error)
	GetAdapter(ctx context.Context, userID string) (types.LoRAAdapter, bool, error)
	EmbeddingOf(ctx context.Context, entityID string) ([]float32, bool)
}

// Service fans out to the collaborative, content, graph, and context
// generators, then blends their output.
type Service struct {
	store       Store
	index       *ann.Index
	loraService *lora.Service
	blender     *blend.Blender

	recencyHalfLife time.Duration
	graphPathDecay  float64
	candidateLimit  int

	mu  sync.RWMutex
	als *candidates.Model
}

// New builds a Service. The collaborative model starts nil (populated
// later by SetCollaborativeModel, as a background ALS refit completes)
// — until then, collaborative filtering simply contributes nothing, the
// same degraded state any generator reaches by missing its deadline.
func New(store Store, index *ann.Index, loraService *lora.Service, blender *blend.Blender, recencyHalfLife time.Duration, graphPathDecay float64) *Service {
	return &Service{
		store:           store,
		index:           index,
		loraService:     loraService,
		blender:         blender,
		recencyHalfLife: recencyHalfLife,
		graphPathDecay:  graphPathDecay,
		candidateLimit:  100,
	}
}

// SetCollaborativeModel installs a freshly fit ALS model, replacing
// whatever a prior background fit produced. Safe to call concurrently
// with Recommend.
func (s *Service) SetCollaborativeModel(m *candidates.Model) {
	s.mu.Lock()
	s.als = m
	s.mu.Unlock()
}

func (s *Service) collaborativeModel() *candidates.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.als
}

// Request bundles one recommendation pull's serving-time inputs.
type Request struct {
	UserID      string
	Device      candidates.DeviceType
	MoodSignals []candidates.MoodSignal
	Limit       int
}

// Recommend runs the full pipeline for one user: load history and
// profile, fan out to the candidate generators with a soft deadline,
// rescale by the user's LoRA adapter if one is stored, and blend/diversify
// into a final recommendation list.
func (s *Service) Recommend(ctx context.Context, req Request) ([]types.Recommendation, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	history, err := s.store.InteractionsByUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load interaction history: %w", err)
	}
	seen := make(map[string]bool, len(history))
	for _, in := range history {
		seen[in.ContentID] = true
	}

	profile, err := s.store.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	embeddingOf := func(contentID string) ([]float32, bool) { return s.store.EmbeddingOf(ctx, contentID) }

	sources := s.runGenerators(ctx, req, history, seen, embeddingOf)
	if len(sources) == 0 {
		return nil, apperr.New(apperr.KindDependencyFailure, "all candidate generators missed their deadline or failed")
	}

	var scorer blend.LoRAScorer
	if s.loraService != nil {
		if adapter, ok, err := s.store.GetAdapter(ctx, req.UserID); err != nil {
			slog.Warn("load lora adapter failed", "component", "reco", "user_id", req.UserID, "error", err)
		} else if ok {
			scorer = lora.AdapterScorer{Service: s.loraService, Adapter: adapter}
		}
	}

	return s.blender.Blend(blend.Input{
		Sources:          sources,
		Seen:             seen,
		PreferenceVector: profile.PreferenceVector,
		Scorer:           scorer,
		EmbeddingOf:      embeddingOf,
		Limit:            limit,
	}), nil
}

// runGenerators races the three I/O/compute-bound generators against a
// shared soft deadline, then re-weights their union with the (cheap,
// in-memory) context generator. A generator that neither returns nor
// times out cleanly (e.g. panics) is not specially handled here — the
// same best-effort contract spec.md §5 describes for platform fetches.
func (s *Service) runGenerators(ctx context.Context, req Request, history []types.Interaction, seen map[string]bool, embeddingOf blend.EmbeddingSource) map[candidates.Source][]candidates.Candidate {
	type result struct {
		src  candidates.Source
		cand []candidates.Candidate
	}

	gctx, cancel := context.WithTimeout(ctx, genDeadline)
	defer cancel()

	resultCh := make(chan result, 3)
	var wg sync.WaitGroup

	if model := s.collaborativeModel(); model != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cand := model.Recommend(req.UserID, seen, s.candidateLimit)
			select {
			case resultCh <- result{candidates.SourceCollaborative, cand}:
			case <-gctx.Done():
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		userVector := candidates.UserVector(history, embeddingOf, time.Now(), s.recencyHalfLife)
		gen := candidates.NewContentGenerator(s.index)
		cand := gen.Generate(userVector, seen, s.candidateLimit)
		select {
		case resultCh <- result{candidates.SourceContent, cand}:
		case <-gctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		gen := candidates.NewGraphGenerator(s.store, s.graphPathDecay)
		cand := gen.Generate(positiveSeeds(history, seedLimit), seen, s.candidateLimit)
		select {
		case resultCh <- result{candidates.SourceGraph, cand}:
		case <-gctx.Done():
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	sources := make(map[candidates.Source][]candidates.Candidate, 4)
collect:
	for {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			if len(r.cand) > 0 {
				sources[r.src] = r.cand
			}
		case <-gctx.Done():
			break collect
		}
	}

	if len(sources) == 0 {
		return sources
	}

	var base []candidates.Candidate
	for _, src := range []candidates.Source{candidates.SourceCollaborative, candidates.SourceContent, candidates.SourceGraph} {
		base = append(base, sources[src]...)
	}
	now := time.Now()
	ctxGen := candidates.NewContextGenerator()
	sources[candidates.SourceContext] = ctxGen.Generate(base, candidates.ContextInput{
		Temporal:    types.TemporalContext{HourOfDay: now.Hour(), DayOfWeek: int(now.Weekday())},
		Device:      req.Device,
		MoodSignals: req.MoodSignals,
		GenresOf:    s.store.GenresOf,
	}, s.candidateLimit)

	return sources
}

// positiveSeeds returns up to limit distinct content_ids from the most
// recent interactions with a positive implicit rating, the "recently
// watched/liked content" spec.md §4.10 seeds graph traversal from.
func positiveSeeds(history []types.Interaction, limit int) []string {
	sorted := make([]types.Interaction, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	seen := make(map[string]bool, limit)
	var out []string
	for _, in := range sorted {
		if in.ImplicitRating() <= 0.5 || seen[in.ContentID] {
			continue
		}
		seen[in.ContentID] = true
		out = append(out, in.ContentID)
		if len(out) >= limit {
			break
		}
	}
	return out
}
