package crdt

import "github.com/streamline/gateway/internal/hlc"

// Tag uniquely identifies one add operation, so the same item value can be
// re-added after removal without resurrecting the old removal's tombstone
// (add-wins semantics, spec.md §3/§8). Generated by the caller at add time;
// the HLC wire encoding is a convenient, already-unique choice.
type Tag string

// Element is one live or tombstoned member of an OR-Set.
type Element struct {
	Item   string        `json:"item"`
	TS     hlc.Timestamp `json:"ts"`
	Origin string        `json:"origin"`
}

// ORSet is an add/remove set with add-wins semantics: a concurrent add and
// remove of the same logical item resolve to "present", because removal only
// tombstones the specific tags it observed (spec.md §3, watchlist/collection
// membership). Zero value is an empty set ready to use.
type ORSet struct {
	Additions map[Tag]Element `json:"additions"`
	Removals  map[Tag]struct{} `json:"removals"`
}

// NewORSet returns an empty, initialized set.
func NewORSet() *ORSet {
	return &ORSet{
		Additions: make(map[Tag]Element),
		Removals:  make(map[Tag]struct{}),
	}
}

func (s *ORSet) ensure() {
	if s.Additions == nil {
		s.Additions = make(map[Tag]Element)
	}
	if s.Removals == nil {
		s.Removals = make(map[Tag]struct{})
	}
}

// Add records a new addition tag for item. Each call must use a fresh tag
// (the caller mints one, typically from the HLC timestamp plus origin) so
// that re-adding a previously removed item is observed as a distinct add.
func (s *ORSet) Add(tag Tag, item string, ts hlc.Timestamp, origin string) {
	s.ensure()
	s.Additions[tag] = Element{Item: item, TS: ts, Origin: origin}
}

// Remove tombstones every addition tag currently observed for item. Tags
// added concurrently elsewhere, not yet observed here, survive the remove
// and will keep the item present once merged in (add-wins).
func (s *ORSet) Remove(item string) {
	s.ensure()
	for tag, el := range s.Additions {
		if el.Item == item {
			s.Removals[tag] = struct{}{}
		}
	}
}

// Contains reports whether item has at least one live (non-removed) tag.
func (s *ORSet) Contains(item string) bool {
	for tag, el := range s.Additions {
		if el.Item != item {
			continue
		}
		if _, removed := s.Removals[tag]; !removed {
			return true
		}
	}
	return false
}

// Items returns the effective membership: items with at least one surviving
// addition tag. Order is unspecified.
func (s *ORSet) Items() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(s.Additions))
	for tag, el := range s.Additions {
		if _, removed := s.Removals[tag]; removed {
			continue
		}
		if !seen[el.Item] {
			seen[el.Item] = true
			out = append(out, el.Item)
		}
	}
	return out
}

// Merge unions s with other: the resulting additions and removals are the
// set union of both sides' maps. Union is commutative, associative, and
// idempotent, so Merge is too (spec.md §8). Merge mutates and returns s.
func (s *ORSet) Merge(other *ORSet) *ORSet {
	s.ensure()
	if other == nil {
		return s
	}
	for tag, el := range other.Additions {
		if _, ok := s.Additions[tag]; !ok {
			s.Additions[tag] = el
		}
	}
	for tag := range other.Removals {
		s.Removals[tag] = struct{}{}
	}
	return s
}

// Clone returns a deep copy, safe to mutate independently of s.
func (s *ORSet) Clone() *ORSet {
	c := NewORSet()
	for tag, el := range s.Additions {
		c.Additions[tag] = el
	}
	for tag := range s.Removals {
		c.Removals[tag] = struct{}{}
	}
	return c
}

// Compact discards tombstones (removed tags) whose HLC timestamp is older
// than horizon, bounding the set's storage growth. Only safe to call once
// every replica is believed to have observed the removal, which the
// compaction coordinator enforces via a retention window rather than per-tag
// acknowledgement (spec.md open question on tombstone retention; resolved in
// DESIGN.md as a bounded-window policy).
func (s *ORSet) Compact(horizon hlc.Timestamp) {
	s.ensure()
	for tag := range s.Removals {
		el, ok := s.Additions[tag]
		if !ok || el.TS.Before(horizon) {
			delete(s.Removals, tag)
			delete(s.Additions, tag)
		}
	}
}
