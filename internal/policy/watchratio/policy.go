// Package watchratio completes content once the playback position reaches a
// fraction of its duration.
package watchratio

import "github.com/JakeFAU/content-progress-bridge/internal/tracker"

const (
	// DefaultThreshold is the fraction of duration that counts as watched.
	DefaultThreshold = 0.8
	// ScoreMax is the score reported on completion.
	ScoreMax = 100
)

// Policy evaluates Position / Duration against a threshold.
type Policy struct {
	threshold float64
}

var _ tracker.Policy = Policy{}

// New returns a Policy. Thresholds outside (0, 1] fall back to
// DefaultThreshold.
func New(threshold float64) Policy {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return Policy{threshold: threshold}
}

// Threshold returns the configured fraction.
func (p Policy) Threshold() float64 { return p.threshold }

// Evaluate implements tracker.Policy. Unknown duration never completes.
func (p Policy) Evaluate(pr tracker.Progress) tracker.CompletionResult {
	ratio := 0.0
	if pr.Duration > 0 {
		ratio = pr.Position / pr.Duration
	}
	done := ratio >= p.threshold
	score := 0.0
	if done {
		score = ScoreMax
	}
	return tracker.CompletionResult{
		Completion: done,
		Success:    done,
		ScoreRaw:   score,
		ScoreMax:   ScoreMax,
	}
}
