package document

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
)

// Checkpoint is the document STATE/SUSPEND body.
type Checkpoint struct {
	Page      *float64 `json:"page,omitempty"`
	Total     *float64 `json:"total,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
	ScrollTop *float64 `json:"scrollTop,omitempty"`
	Visited   []int    `json:"visited,omitempty"`
	TotalSec  *float64 `json:"totalSec,omitempty"`
}

// Codec maps tracker.Progress to Checkpoint. Scale and scroll offset travel
// in Progress.Settings.
type Codec struct{}

var _ tracker.Codec = Codec{}

// Encode implements tracker.Codec.
func (Codec) Encode(p tracker.Progress) (json.RawMessage, error) {
	page, total, sec := p.Position, p.Duration, p.Elapsed.Seconds()
	cp := Checkpoint{
		Page:     &page,
		Total:    &total,
		Visited:  p.Visited.Sorted(),
		TotalSec: &sec,
	}
	if v, ok := p.Settings[SettingScale]; ok {
		cp.Scale = &v
	}
	if v, ok := p.Settings[SettingScrollTop]; ok {
		cp.ScrollTop = &v
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal document checkpoint: %w", err)
	}
	return raw, nil
}

// Decode implements tracker.Codec.
func (Codec) Decode(raw json.RawMessage) (tracker.Snapshot, error) {
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return tracker.Snapshot{}, fmt.Errorf("unmarshal document checkpoint: %w", err)
	}
	snap := tracker.Snapshot{
		Position: cp.Page,
		Duration: cp.Total,
		Visited:  cp.Visited,
	}
	if cp.TotalSec != nil {
		d := tracker.SecondsToDuration(*cp.TotalSec)
		snap.Elapsed = &d
	}
	if cp.Scale != nil || cp.ScrollTop != nil {
		snap.Settings = make(map[string]float64, 2)
		if cp.Scale != nil {
			snap.Settings[SettingScale] = ClampScale(*cp.Scale)
		}
		if cp.ScrollTop != nil {
			snap.Settings[SettingScrollTop] = *cp.ScrollTop
		}
	}
	return snap, nil
}
