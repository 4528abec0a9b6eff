// Package candidates implements the four candidate generators RECO
// blends together (spec.md §4.10): collaborative filtering (ALS), content
// similarity (ANN), graph traversal, and context-aware reweighting. Each
// generator is independent and returns its own capped, scored candidate
// list; internal/reco/blend merges them.
package candidates

import "sort"

// Source names the candidate generator a Candidate came from, carried
// through to the Blender's based_on explanation (spec.md §4.11).
type Source string

const (
	SourceCollaborative Source = "collaborative_filtering"
	SourceContent       Source = "content_similarity"
	SourceGraph         Source = "graph_similarity"
	SourceContext       Source = "context_aware"
)

// maxCandidatesPerSource caps each generator's output before blending
// (spec.md §4.11: "collect up to 100 candidates per source").
const maxCandidatesPerSource = 100

// Candidate is one scored recommendation candidate prior to blending.
type Candidate struct {
	ContentID string
	Score     float64
	Source    Source
}

// sortCandidatesDesc sorts candidates by descending score in place.
func sortCandidatesDesc(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
}
