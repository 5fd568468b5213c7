package coverage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
)

func progress(total float64, elapsed time.Duration, pages ...int) tracker.Progress {
	return tracker.Progress{
		Position: 1,
		Duration: total,
		Visited:  tracker.NewUnitSet(pages...),
		Elapsed:  elapsed,
	}
}

// TestCoverageWithoutTimeIsIncomplete checks 8 of 10 pages in 25s fails the 30s floor.
func TestCoverageWithoutTimeIsIncomplete(t *testing.T) {
	t.Parallel()

	p := New(Config{MinVisitedRatio: 0.8, MinActive: 30 * time.Second})
	res := p.Evaluate(progress(10, 25*time.Second, 1, 2, 3, 4, 5, 6, 7, 8))

	require.False(t, res.Completion)
	require.False(t, res.Success)
	require.Zero(t, res.ScoreRaw)
	require.Equal(t, Detail{VisitedRatio: 0.8, VisitedCount: 8, TotalPages: 10}, res.Detail)
}

func TestCoverageEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		total   float64
		elapsed time.Duration
		pages   []int
		want    bool
	}{
		{name: "both met", total: 10, elapsed: 30 * time.Second, pages: []int{1, 2, 3, 4, 5, 6, 7, 8}, want: true},
		{name: "coverage short", total: 10, elapsed: time.Minute, pages: []int{1, 2, 3}, want: false},
		{name: "unknown total", total: 0, elapsed: time.Minute, pages: []int{1}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := New(Config{}).Evaluate(progress(tt.total, tt.elapsed, tt.pages...))
			require.Equal(t, tt.want, res.Completion)
			require.Equal(t, float64(ScoreMax), res.ScoreMax)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	cfg := New(Config{}).Config()
	require.Equal(t, DefaultMinVisitedRatio, cfg.MinVisitedRatio)
	require.Equal(t, DefaultMinActive, cfg.MinActive)

	require.Zero(t, New(Config{MinActive: -1}).Config().MinActive)
}
