// Package simple contains a completion policy for content with no measurable
// progress: evaluating it always reports a successful completion.
package simple

import "github.com/JakeFAU/content-progress-bridge/internal/tracker"

// ScoreMax is the score reported on completion.
const ScoreMax = 100

// Policy completes unconditionally.
type Policy struct{}

var _ tracker.Policy = Policy{}

// New creates a new Policy.
func New() Policy {
	return Policy{}
}

// Evaluate always returns a successful completion with a full score.
func (Policy) Evaluate(tracker.Progress) tracker.CompletionResult {
	return tracker.CompletionResult{
		Completion: true,
		Success:    true,
		ScoreRaw:   ScoreMax,
		ScoreMax:   ScoreMax,
	}
}
