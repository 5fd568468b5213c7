// Package coverage completes paged content once enough units were visited and
// enough active time was spent.
package coverage

import (
	"time"

	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
)

const (
	// DefaultMinVisitedRatio is the visited fraction required.
	DefaultMinVisitedRatio = 0.8
	// DefaultMinActive is the active time required.
	DefaultMinActive = 30 * time.Second
	// ScoreMax is the score reported on completion.
	ScoreMax = 100
)

// Config holds both thresholds. Zero values take the defaults.
type Config struct {
	MinVisitedRatio float64
	MinActive       time.Duration
}

// Detail is attached to COMPLETE.
type Detail struct {
	VisitedRatio float64 `json:"visitedRatio"`
	VisitedCount int     `json:"visitedCount"`
	TotalPages   int     `json:"totalPages"`
}

// Policy requires both unit coverage and active time.
type Policy struct {
	cfg Config
}

var _ tracker.Policy = Policy{}

// New returns a Policy.
func New(cfg Config) Policy {
	if cfg.MinVisitedRatio <= 0 || cfg.MinVisitedRatio > 1 {
		cfg.MinVisitedRatio = DefaultMinVisitedRatio
	}
	if cfg.MinActive < 0 {
		cfg.MinActive = 0
	} else if cfg.MinActive == 0 {
		cfg.MinActive = DefaultMinActive
	}
	return Policy{cfg: cfg}
}

// Config returns the effective thresholds.
func (p Policy) Config() Config { return p.cfg }

// Evaluate implements tracker.Policy.
func (p Policy) Evaluate(pr tracker.Progress) tracker.CompletionResult {
	ratio := pr.VisitedRatio()
	done := ratio >= p.cfg.MinVisitedRatio && pr.Elapsed >= p.cfg.MinActive
	score := 0.0
	if done {
		score = ScoreMax
	}
	return tracker.CompletionResult{
		Completion: done,
		Success:    done,
		ScoreRaw:   score,
		ScoreMax:   ScoreMax,
		Detail: Detail{
			VisitedRatio: ratio,
			VisitedCount: pr.Visited.Len(),
			TotalPages:   int(pr.Duration),
		},
	}
}
