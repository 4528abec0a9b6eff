package candidates

import "testing"

type fakeGraphSource struct {
	genres    map[string][]string
	cast      map[string][]string
	coWatched map[string]map[string]int
}

func (f *fakeGraphSource) GenresOf(id string) []string  { return f.genres[id] }
func (f *fakeGraphSource) CastOf(id string) []string    { return f.cast[id] }
func (f *fakeGraphSource) CoWatchNeighbors(id string) map[string]int {
	return f.coWatched[id]
}

func TestGraphGenerator_TraversesCoWatchEdges(t *testing.T) {
	src := &fakeGraphSource{
		genres: map[string][]string{
			"seed":   {"drama"},
			"hop1":   {"drama"},
			"hop2":   {"comedy"},
		},
		cast: map[string][]string{
			"seed": {"actor-x"},
			"hop1": {"actor-x"},
			"hop2": {},
		},
		coWatched: map[string]map[string]int{
			"seed": {"hop1": 10, "hop2": 1},
			"hop1": {"hop2": 2},
		},
	}

	g := NewGraphGenerator(src, 0.7)
	results := g.Generate([]string{"seed"}, nil, 5)

	if len(results) != 2 {
		t.Fatalf("expected 2 reachable nodes, got %d: %+v", len(results), results)
	}
	if results[0].ContentID != "hop1" {
		t.Fatalf("expected hop1 (shared genre+cast+higher co-watch) to rank first, got %q", results[0].ContentID)
	}
	for _, c := range results {
		if c.Source != SourceGraph {
			t.Fatalf("expected SourceGraph, got %q", c.Source)
		}
	}
}

func TestGraphGenerator_ExcludesSeenNodes(t *testing.T) {
	src := &fakeGraphSource{
		coWatched: map[string]map[string]int{
			"seed": {"hop1": 5},
		},
	}
	g := NewGraphGenerator(src, 0.7)
	results := g.Generate([]string{"seed"}, map[string]bool{"hop1": true}, 5)
	if len(results) != 0 {
		t.Fatalf("expected seen node excluded, got %+v", results)
	}
}

func TestGraphGenerator_NoSeedsReturnsEmpty(t *testing.T) {
	g := NewGraphGenerator(&fakeGraphSource{}, 0.7)
	if results := g.Generate(nil, nil, 5); len(results) != 0 {
		t.Fatalf("expected no results with no seeds, got %+v", results)
	}
}

func TestJaccard_IdenticalSetsIsOne(t *testing.T) {
	set := map[string]bool{"a": true, "b": true}
	if got := jaccard(set, set); got != 1 {
		t.Fatalf("expected jaccard(set, set) == 1, got %v", got)
	}
}

func TestJaccard_DisjointSetsIsZero(t *testing.T) {
	a := map[string]bool{"a": true}
	b := map[string]bool{"b": true}
	if got := jaccard(a, b); got != 0 {
		t.Fatalf("expected disjoint jaccard == 0, got %v", got)
	}
}
