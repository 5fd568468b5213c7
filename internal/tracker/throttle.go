package tracker

import "math"

// Throttle fires when an axis value crosses into a later interval bucket.
// It is driven by observed values, never by a timer, so it stays correct
// under irregular progress signals.
type Throttle struct {
	interval float64
	bucket   int64
}

// NewThrottle returns a throttle anchored at zero. A non-positive interval
// never fires.
func NewThrottle(interval float64) *Throttle {
	return &Throttle{interval: interval}
}

// Observe records v and reports whether it crossed at least one boundary
// since the last emission. Moving backwards rebases without firing.
func (t *Throttle) Observe(v float64) bool {
	if t == nil || t.interval <= 0 || math.IsNaN(v) {
		return false
	}
	b := t.bucketOf(v)
	switch {
	case b > t.bucket:
		t.bucket = b
		return true
	case b < t.bucket:
		t.bucket = b
	}
	return false
}

// Rebase anchors the throttle at v without firing.
func (t *Throttle) Rebase(v float64) {
	if t == nil || t.interval <= 0 || math.IsNaN(v) {
		return
	}
	t.bucket = t.bucketOf(v)
}

func (t *Throttle) bucketOf(v float64) int64 {
	return int64(math.Floor(v / t.interval))
}
