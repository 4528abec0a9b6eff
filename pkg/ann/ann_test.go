package ann

import "testing"

func TestPackUnpackEmbedding_RoundTrips(t *testing.T) {
	v := []float32{0.1, -0.2, 3.5, 0}
	got := UnpackEmbedding(PackEmbedding(v))
	if len(got) != len(v) {
		t.Fatalf("expected round-trip length %d, got %d", len(v), len(got))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("index %d: expected %v, got %v", i, v[i], got[i])
		}
	}
}

func TestCosineSimilarity_IdenticalVectorsAreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	if s := CosineSimilarity(v, v); s < 0.999 {
		t.Fatalf("expected similarity ~1.0, got %v", s)
	}
}

func TestCosineSimilarity_OrthogonalVectorsAreZero(t *testing.T) {
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Fatalf("expected orthogonal similarity 0, got %v", s)
	}
}

func TestIndex_SearchReturnsClosestExcludingSelf(t *testing.T) {
	idx := New()
	idx.Upsert("a", []float32{1, 0, 0})
	idx.Upsert("b", []float32{0.9, 0.1, 0})
	idx.Upsert("c", []float32{0, 1, 0})

	results := idx.Search([]float32{1, 0, 0}, 2, "a", nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "b" {
		t.Fatalf("expected closest match 'b' first, got %q", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("expected descending score order, got %v then %v", results[0].Score, results[1].Score)
	}
}

func TestIndex_SearchAppliesKeepFilter(t *testing.T) {
	idx := New()
	idx.Upsert("a", []float32{1, 0})
	idx.Upsert("b", []float32{1, 0})

	results := idx.Search([]float32{1, 0}, 10, "", func(id string) bool { return id != "b" })
	for _, m := range results {
		if m.ID == "b" {
			t.Fatal("expected 'b' filtered out by keep predicate")
		}
	}
}

func TestIndex_RemoveDropsEntry(t *testing.T) {
	idx := New()
	idx.Upsert("a", []float32{1, 0})
	idx.Remove("a")
	if idx.Len() != 0 {
		t.Fatalf("expected index empty after remove, got len %d", idx.Len())
	}
}
