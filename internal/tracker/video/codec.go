package video

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
)

// Checkpoint is the video STATE/SUSPEND body.
type Checkpoint struct {
	Position       *float64 `json:"position,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	WatchedSeconds *float64 `json:"watchedSeconds,omitempty"`
	Visited        []int    `json:"visited,omitempty"`
}

// Codec maps tracker.Progress to Checkpoint.
type Codec struct{}

var _ tracker.Codec = Codec{}

// Encode implements tracker.Codec.
func (Codec) Encode(p tracker.Progress) (json.RawMessage, error) {
	pos, dur, watched := p.Position, p.Duration, p.Elapsed.Seconds()
	raw, err := json.Marshal(Checkpoint{
		Position:       &pos,
		Duration:       &dur,
		WatchedSeconds: &watched,
		Visited:        p.Visited.Sorted(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal video checkpoint: %w", err)
	}
	return raw, nil
}

// Decode implements tracker.Codec. Older checkpoints carrying only a
// position are accepted.
func (Codec) Decode(raw json.RawMessage) (tracker.Snapshot, error) {
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return tracker.Snapshot{}, fmt.Errorf("unmarshal video checkpoint: %w", err)
	}
	snap := tracker.Snapshot{
		Position: cp.Position,
		Duration: cp.Duration,
		Visited:  cp.Visited,
	}
	if cp.WatchedSeconds != nil {
		d := tracker.SecondsToDuration(*cp.WatchedSeconds)
		snap.Elapsed = &d
	}
	return snap, nil
}
