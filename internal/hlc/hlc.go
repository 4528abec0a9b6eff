// Package hlc implements the hybrid logical clock used to stamp every SYNC
// operation (spec.md §4.1). A Clock is owned by exactly one device/replica;
// it is not safe for concurrent use from multiple goroutines without the
// caller's own lock, matching the single-writer-per-user_id guarantee the
// SyncStore actor already provides.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
)

// Timestamp is a single HLC value: (physical_ms, logical_counter, origin).
type Timestamp struct {
	Physical int64
	Logical  uint32
	Origin   string
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after other.
// Total order: physical, then logical, then origin (tiebreak only).
func (t Timestamp) Compare(other Timestamp) int {
	if t.Physical != other.Physical {
		if t.Physical < other.Physical {
			return -1
		}
		return 1
	}
	if t.Logical != other.Logical {
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	}
	return strings.Compare(t.Origin, other.Origin)
}

// Before reports whether t causally/totally precedes other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// After reports whether t causally/totally follows other.
func (t Timestamp) After(other Timestamp) bool { return t.Compare(other) > 0 }

// Max returns the greater of t and other, by Compare.
func Max(t, other Timestamp) Timestamp {
	if t.Compare(other) >= 0 {
		return t
	}
	return other
}

// String renders the wire encoding: "physical-logical-origin" (spec.md §6).
// All three components are left as their natural string form; physical and
// logical sort correctly lexically only once zero-padded by the caller if
// cross-timestamp string comparison is required. Comparisons in this package
// always use Compare, never string ordering.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d-%d-%s", t.Physical, t.Logical, t.Origin)
}

// Parse decodes the "physical-logical-origin" wire encoding.
func Parse(s string) (Timestamp, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	physical, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed physical component in %q: %w", s, err)
	}
	logical, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed logical component in %q: %w", s, err)
	}
	if parts[2] == "" {
		return Timestamp{}, fmt.Errorf("hlc: missing origin in %q", s)
	}
	return Timestamp{Physical: physical, Logical: uint32(logical), Origin: parts[2]}, nil
}

// NowFunc returns the current wall-clock time in milliseconds. Overridable
// in tests; production code passes the time.Now-backed WallClockMillis
// (wallclock.go).
type NowFunc func() int64

// Clock is a per-device hybrid logical clock.
type Clock struct {
	origin string
	nowMs  NowFunc
	last   Timestamp
}

// New creates a Clock for the given origin device, using wallClock as the
// physical-time source (milliseconds since epoch).
func New(origin string, wallClock NowFunc) *Clock {
	return &Clock{
		origin: origin,
		nowMs:  wallClock,
		last:   Timestamp{Origin: origin},
	}
}

// Now advances and returns the clock's next timestamp. physical = max(system
// ms, last.physical); logical resets to 0 unless physical is unchanged, in
// which case it increments. Strictly increasing across calls (spec.md §8).
func (c *Clock) Now() Timestamp {
	system := c.nowMs()
	physical := system
	if c.last.Physical > physical {
		physical = c.last.Physical
	}

	var logical uint32
	if physical == c.last.Physical {
		logical = c.last.Logical + 1
	}

	c.last = Timestamp{Physical: physical, Logical: logical, Origin: c.origin}
	return c.last
}

// Update folds a remote timestamp into the clock, preserving causality: the
// local clock never decreases, and a subsequent Now() call will sort after
// remote (spec.md §4.1, §8 causality invariant).
func (c *Clock) Update(remote Timestamp) Timestamp {
	physical := c.last.Physical
	if remote.Physical > physical {
		physical = remote.Physical
	}

	var logical uint32
	switch {
	case physical == c.last.Physical && physical == remote.Physical:
		logical = max32(c.last.Logical, remote.Logical) + 1
	case physical == c.last.Physical:
		logical = c.last.Logical + 1
	case physical == remote.Physical:
		logical = remote.Logical + 1
	default:
		logical = 0
	}

	c.last = Timestamp{Physical: physical, Logical: logical, Origin: c.origin}
	return c.last
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
