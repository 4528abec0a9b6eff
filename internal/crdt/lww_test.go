package crdt

import (
	"testing"

	"github.com/streamline/gateway/internal/hlc"
)

func ts(physical int64, logical uint32, origin string) hlc.Timestamp {
	return hlc.Timestamp{Physical: physical, Logical: logical, Origin: origin}
}

func TestLWWRegisterMergeTakesGreaterTimestamp(t *testing.T) {
	older := NewLWWRegister(PlaybackPosition{ContentID: "c1", PositionSeconds: 100}, ts(100, 0, "phone"), "phone")
	newer := NewLWWRegister(PlaybackPosition{ContentID: "c1", PositionSeconds: 400}, ts(200, 0, "tv"), "tv")

	merged := older.Merge(newer)
	if merged.Value.PositionSeconds != 400 {
		t.Fatalf("Merge() kept %v, want the newer value", merged.Value)
	}

	merged2 := newer.Merge(older)
	if merged2.Value.PositionSeconds != 400 {
		t.Fatalf("Merge() is not commutative: got %v", merged2.Value)
	}
}

func TestLWWRegisterMergeIsIdempotent(t *testing.T) {
	r := NewLWWRegister(PlaybackPosition{ContentID: "c1", PositionSeconds: 42}, ts(100, 0, "phone"), "phone")
	once := r.Merge(r)
	twice := once.Merge(r)
	if once != twice {
		t.Fatalf("Merge not idempotent: once=%+v twice=%+v", once, twice)
	}
}

func TestLWWRegisterMergeIsAssociative(t *testing.T) {
	a := NewLWWRegister(PlaybackPosition{PositionSeconds: 1}, ts(100, 0, "a"), "a")
	b := NewLWWRegister(PlaybackPosition{PositionSeconds: 2}, ts(150, 0, "b"), "b")
	c := NewLWWRegister(PlaybackPosition{PositionSeconds: 3}, ts(120, 0, "c"), "c")

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	if left.Value != right.Value || left.TS != right.TS {
		t.Fatalf("Merge not associative: left=%+v right=%+v", left, right)
	}
}

func TestLWWRegisterMergeTimestampInvariant(t *testing.T) {
	a := NewLWWRegister(PlaybackPosition{PositionSeconds: 1}, ts(100, 0, "a"), "a")
	b := NewLWWRegister(PlaybackPosition{PositionSeconds: 2}, ts(150, 3, "b"), "b")

	merged := a.Merge(b)
	want := hlc.Max(a.TS, b.TS)
	if merged.TS.Compare(want) < 0 {
		t.Fatalf("merge(S1,S2).ts = %v, want >= max(S1.ts, S2.ts) = %v", merged.TS, want)
	}
}

func TestLWWRegisterMergeWithUnsetYieldsOther(t *testing.T) {
	var empty LWWRegister
	populated := NewLWWRegister(PlaybackPosition{PositionSeconds: 7}, ts(1, 0, "a"), "a")

	if got := empty.Merge(populated); got.Value.PositionSeconds != 7 {
		t.Fatalf("Merge(empty, populated) = %+v, want populated value", got)
	}
	if got := populated.Merge(empty); got.Value.PositionSeconds != 7 {
		t.Fatalf("Merge(populated, empty) = %+v, want populated value", got)
	}
}

func TestPlaybackPositionCompleted(t *testing.T) {
	cases := []struct {
		position, duration float64
		want               bool
	}{
		{950, 1000, true},
		{949, 1000, false},
		{0, 0, false},
		{1000, 1000, true},
	}
	for _, c := range cases {
		p := PlaybackPosition{PositionSeconds: c.position, DurationSeconds: c.duration}
		if got := p.Completed(); got != c.want {
			t.Errorf("Completed(%v/%v) = %v, want %v", c.position, c.duration, got, c.want)
		}
	}
}
