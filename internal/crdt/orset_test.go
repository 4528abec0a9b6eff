package crdt

import (
	"reflect"
	"sort"
	"testing"
)

func sorted(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}

func TestORSetAddAndContains(t *testing.T) {
	s := NewORSet()
	s.Add("tag1", "movie-1", ts(100, 0, "phone"), "phone")

	if !s.Contains("movie-1") {
		t.Fatal("expected movie-1 to be present after Add")
	}
	if s.Contains("movie-2") {
		t.Fatal("movie-2 should not be present")
	}
}

func TestORSetRemoveTombstonesObservedTags(t *testing.T) {
	s := NewORSet()
	s.Add("tag1", "movie-1", ts(100, 0, "phone"), "phone")
	s.Remove("movie-1")

	if s.Contains("movie-1") {
		t.Fatal("movie-1 should be absent after Remove")
	}
}

func TestORSetAddWinsOverConcurrentRemove(t *testing.T) {
	// Replica A adds movie-1, then replica B (which never observed the add)
	// concurrently re-adds it with a fresh tag. Replica A's remove only
	// tombstones the tag it has seen; merging in B's add must resurrect the
	// item (add-wins, spec.md §3/§8).
	a := NewORSet()
	a.Add("tagA", "movie-1", ts(100, 0, "a"), "a")
	a.Remove("movie-1")

	b := NewORSet()
	b.Add("tagB", "movie-1", ts(50, 0, "b"), "b")

	merged := a.Clone()
	merged.Merge(b)

	if !merged.Contains("movie-1") {
		t.Fatalf("add-wins violated: merged set = %+v", merged.Items())
	}
}

func TestORSetMergeIsCommutative(t *testing.T) {
	a := NewORSet()
	a.Add("tagA", "movie-1", ts(100, 0, "a"), "a")

	b := NewORSet()
	b.Add("tagB", "movie-2", ts(100, 0, "b"), "b")
	b.Remove("movie-2")

	left := a.Clone()
	left.Merge(b)

	right := b.Clone()
	right.Merge(a)

	if !reflect.DeepEqual(sorted(left.Items()), sorted(right.Items())) {
		t.Fatalf("merge not commutative: left=%v right=%v", left.Items(), right.Items())
	}
}

func TestORSetMergeIsAssociative(t *testing.T) {
	a := NewORSet()
	a.Add("tagA", "movie-1", ts(100, 0, "a"), "a")

	b := NewORSet()
	b.Add("tagB", "movie-2", ts(100, 0, "b"), "b")

	c := NewORSet()
	c.Add("tagC", "movie-3", ts(100, 0, "c"), "c")
	c.Remove("movie-3")

	left := a.Clone()
	left.Merge(b)
	left.Merge(c)

	right := b.Clone()
	right.Merge(c)
	ab := a.Clone()
	ab.Merge(right)

	if !reflect.DeepEqual(sorted(left.Items()), sorted(ab.Items())) {
		t.Fatalf("merge not associative: left=%v right=%v", left.Items(), ab.Items())
	}
}

func TestORSetMergeIsIdempotent(t *testing.T) {
	a := NewORSet()
	a.Add("tagA", "movie-1", ts(100, 0, "a"), "a")

	once := a.Clone()
	once.Merge(a)

	twice := once.Clone()
	twice.Merge(a)

	if !reflect.DeepEqual(sorted(once.Items()), sorted(twice.Items())) {
		t.Fatalf("merge not idempotent: once=%v twice=%v", once.Items(), twice.Items())
	}
	if len(once.Additions) != len(twice.Additions) || len(once.Removals) != len(twice.Removals) {
		t.Fatalf("merge grew maps on repeat: once=%d/%d twice=%d/%d",
			len(once.Additions), len(once.Removals), len(twice.Additions), len(twice.Removals))
	}
}

func TestORSetCompactDropsOldTombstonesOnly(t *testing.T) {
	s := NewORSet()
	s.Add("old", "movie-1", ts(10, 0, "a"), "a")
	s.Remove("movie-1")
	s.Add("new", "movie-2", ts(500, 0, "a"), "a")
	s.Remove("movie-2")

	s.Compact(ts(100, 0, ""))

	if _, ok := s.Removals["old"]; ok {
		t.Fatal("expected old tombstone to be compacted away")
	}
	if _, ok := s.Removals["new"]; !ok {
		t.Fatal("expected recent tombstone to survive compaction")
	}
}

func TestORSetItemsDeduplicatesMultipleLiveTags(t *testing.T) {
	s := NewORSet()
	s.Add("tagA", "movie-1", ts(100, 0, "a"), "a")
	s.Add("tagB", "movie-1", ts(200, 0, "b"), "b")

	items := s.Items()
	if len(items) != 1 || items[0] != "movie-1" {
		t.Fatalf("Items() = %v, want single movie-1 entry", items)
	}
}
