package tracker

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// UnitSet is a set of visited unit indices.
type UnitSet map[int]struct{}

// NewUnitSet returns a set holding units.
func NewUnitSet(units ...int) UnitSet {
	s := make(UnitSet, len(units))
	for _, u := range units {
		s[u] = struct{}{}
	}
	return s
}

// Add marks u visited and reports whether it was new.
func (s UnitSet) Add(u int) bool {
	if _, ok := s[u]; ok {
		return false
	}
	s[u] = struct{}{}
	return true
}

// Has reports membership.
func (s UnitSet) Has(u int) bool {
	_, ok := s[u]
	return ok
}

// Retain drops members outside [lo, hi] and returns how many were dropped.
func (s UnitSet) Retain(lo, hi int) int {
	dropped := 0
	for u := range s {
		if u < lo || u > hi {
			delete(s, u)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of visited units.
func (s UnitSet) Len() int { return len(s) }

// Sorted returns the members in ascending order.
func (s UnitSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Ints(out)
	return out
}

// Clone returns an independent copy.
func (s UnitSet) Clone() UnitSet {
	out := make(UnitSet, len(s))
	for u := range s {
		out[u] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s UnitSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of unit indices.
func (s *UnitSet) UnmarshalJSON(data []byte) error {
	var units []int
	if err := json.Unmarshal(data, &units); err != nil {
		return err
	}
	*s = NewUnitSet(units...)
	return nil
}

// Progress is the tracked state of one content instance.
type Progress struct {
	// Position is the current unit position (seconds for video, page for
	// documents).
	Position float64
	// Duration is the total number of units; zero while unknown.
	Duration float64
	Visited  UnitSet
	// Elapsed counts active time only.
	Elapsed time.Duration
	// UnitElapsed counts active time on the current unit.
	UnitElapsed time.Duration
	// Settings carries presentation values that ride in checkpoints.
	Settings map[string]float64
}

// Clone returns a deep copy of p.
func (p Progress) Clone() Progress {
	out := p
	out.Visited = p.Visited.Clone()
	out.Settings = make(map[string]float64, len(p.Settings))
	for k, v := range p.Settings {
		out.Settings[k] = v
	}
	return out
}

// Unit returns the index of the unit containing Position.
func (p Progress) Unit() int {
	return int(math.Floor(p.Position))
}

// VisitedRatio returns visited units over Duration, capped at 1, or zero
// while Duration is unknown.
func (p Progress) VisitedRatio() float64 {
	if p.Duration <= 0 {
		return 0
	}
	return math.Min(1, float64(p.Visited.Len())/p.Duration)
}

// Snapshot is a decoded checkpoint. Nil pointer fields were absent from the
// checkpoint and leave the corresponding Progress field untouched.
type Snapshot struct {
	Position *float64
	Duration *float64
	Visited  []int
	Elapsed  *time.Duration
	Settings map[string]float64
}

// Codec converts Progress to and from a content type's checkpoint body. The
// encoded form must be self-contained.
type Codec interface {
	Encode(p Progress) (json.RawMessage, error)
	Decode(raw json.RawMessage) (Snapshot, error)
}

// SecondsToDuration converts a checkpoint seconds value back to a Duration,
// rounding to the nanosecond so Duration.Seconds round-trips exactly.
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}
