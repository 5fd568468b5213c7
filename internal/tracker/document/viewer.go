// Package document instantiates the progress tracker for a paged document:
// units are 1-based pages, telemetry and checkpoints are throttled on active
// seconds, and completion defaults to 80% page coverage plus 30 seconds.
package document

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/policy/coverage"
	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
)

// Event types sent by a Viewer.
const (
	EventReady      = "PDF_READY"
	EventPageView   = "PDF_PAGE_VIEW"
	EventPageChange = "PDF_PAGE_CHANGE"
	EventScroll     = "PDF_SCROLL"
	EventProgress   = "PROGRESS"
)

// Settings keys carried in checkpoints.
const (
	SettingScale     = "scale"
	SettingScrollTop = "scrollTop"
)

// Zoom bounds.
const (
	MinScale     = 0.6
	MaxScale     = 2.5
	ScaleStep    = 0.1
	DefaultScale = 1.0
)

const (
	// DefaultTelemetryInterval is active seconds between PROGRESS events.
	DefaultTelemetryInterval = 10
	// DefaultPersistInterval is active seconds between STATE checkpoints.
	DefaultPersistInterval = 10
	// DefaultScrollDebounce delays scroll checkpoints.
	DefaultScrollDebounce = time.Second
)

// View is what the renderer needs to draw the current page.
type View struct {
	Page      int
	Total     int
	Scale     float64
	ScrollTop float64
}

// Config controls a Viewer. Zero values take the defaults; Policy defaults to
// coverage.New(coverage.Config{}).
type Config struct {
	TelemetryInterval float64
	PersistInterval   float64
	ScrollDebounce    time.Duration
	TickInterval      time.Duration
	MaxTickDelta      time.Duration
	Policy            tracker.Policy
	// Render draws a page; called on every page change, zoom and resume.
	Render func(View)
	Clock  tracker.Clock
	Logger *zap.Logger
}

// Viewer tracks one paged document.
type Viewer struct {
	t      *tracker.Tracker
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	total       int
	rendered    bool
	scrollTimer *time.Timer
}

type progressData struct {
	Page         int     `json:"page"`
	Total        int     `json:"total"`
	VisitedCount int     `json:"visitedCount"`
	VisitedRatio float64 `json:"visitedRatio"`
	TotalSec     int     `json:"totalSec"`
	PageSec      int     `json:"pageSec"`
}

type pageData struct {
	Page  int      `json:"page"`
	Total int      `json:"total"`
	Scale *float64 `json:"scale,omitempty"`
}

type scrollData struct {
	Page      int     `json:"page"`
	ScrollTop float64 `json:"scrollTop"`
}

// New builds a Viewer on br.
func New(br tracker.Bridge, cfg Config) (*Viewer, error) {
	if br == nil {
		return nil, errors.New("bridge is required")
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}
	if cfg.ScrollDebounce <= 0 {
		cfg.ScrollDebounce = DefaultScrollDebounce
	}
	if cfg.Policy == nil {
		cfg.Policy = coverage.New(coverage.Config{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Viewer{cfg: cfg, logger: logger.Named("document")}
	t, err := tracker.New(br, tracker.Config{
		Codec:             Codec{},
		Policy:            cfg.Policy,
		Axis:              tracker.AxisElapsed,
		TelemetryInterval: cfg.TelemetryInterval,
		PersistInterval:   cfg.PersistInterval,
		TickInterval:      cfg.TickInterval,
		MaxTickDelta:      cfg.MaxTickDelta,
		MinPosition:       1,
		Telemetry:         telemetry,
		Seek:              func(page float64) { v.render(int(page)) },
		Clock:             cfg.Clock,
		Logger:            v.logger,
	})
	if err != nil {
		return nil, err
	}
	t.SetSetting(SettingScale, DefaultScale)
	t.SetSetting(SettingScrollTop, 0)
	v.t = t
	return v, nil
}

func telemetry(p tracker.Progress) (string, any) {
	return EventProgress, progressData{
		Page:         p.Unit(),
		Total:        int(p.Duration),
		VisitedCount: p.Visited.Len(),
		VisitedRatio: p.VisitedRatio(),
		TotalSec:     int(p.Elapsed / time.Second),
		PageSec:      int(p.UnitElapsed / time.Second),
	}
}

// ClampScale bounds a zoom factor to [MinScale, MaxScale] on ScaleStep.
func ClampScale(s float64) float64 {
	if math.IsNaN(s) {
		return DefaultScale
	}
	s = math.Round(s*10) / 10
	return math.Min(MaxScale, math.Max(MinScale, s))
}

// Tracker exposes the underlying state machine.
func (v *Viewer) Tracker() *tracker.Tracker { return v.t }

// Loaded reports the page count, renders the resumed or first page and
// starts active-time accounting.
func (v *Viewer) Loaded(total int) {
	v.mu.Lock()
	v.total = total
	v.rendered = false
	v.mu.Unlock()

	v.t.Track(EventReady, map[string]int{"total": total})
	v.t.SurfaceReady(float64(total))

	v.mu.Lock()
	rendered := v.rendered
	v.mu.Unlock()
	if !rendered {
		v.render(v.t.Progress().Unit())
	}
	v.t.Play()
}

// Page returns the current page.
func (v *Viewer) Page() int {
	return v.t.Progress().Unit()
}

// Scale returns the zoom factor.
func (v *Viewer) Scale() float64 {
	s, ok := v.t.Setting(SettingScale)
	if !ok {
		return DefaultScale
	}
	return s
}

// GoTo renders page, clamped to [1, total].
func (v *Viewer) GoTo(page int) {
	v.render(page)
}

// Next renders the following page.
func (v *Viewer) Next() { v.render(v.Page() + 1) }

// Prev renders the preceding page.
func (v *Viewer) Prev() { v.render(v.Page() - 1) }

// ZoomIn grows the zoom by one step and re-renders.
func (v *Viewer) ZoomIn() { v.zoom(ScaleStep) }

// ZoomOut shrinks the zoom by one step and re-renders.
func (v *Viewer) ZoomOut() { v.zoom(-ScaleStep) }

func (v *Viewer) zoom(step float64) {
	v.t.SetSetting(SettingScale, ClampScale(v.Scale()+step))
	v.render(v.Page())
}

// Scroll records the scroll offset. The checkpoint is debounced.
func (v *Viewer) Scroll(scrollTop float64) {
	v.t.SetSetting(SettingScrollTop, scrollTop)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.scrollTimer != nil {
		v.scrollTimer.Stop()
	}
	v.scrollTimer = time.AfterFunc(v.cfg.ScrollDebounce, v.flushScroll)
}

// FlushScroll sends a pending scroll checkpoint now.
func (v *Viewer) FlushScroll() {
	v.mu.Lock()
	pending := v.scrollTimer != nil && v.scrollTimer.Stop()
	v.scrollTimer = nil
	v.mu.Unlock()
	if pending {
		v.flushScroll()
	}
}

func (v *Viewer) flushScroll() {
	top, _ := v.t.Setting(SettingScrollTop)
	v.t.Track(EventScroll, scrollData{Page: v.Page(), ScrollTop: top})
	if err := v.t.SaveState(); err != nil {
		v.logger.Warn("scroll checkpoint failed", zap.Error(err))
	}
}

// Play resumes active-time accounting, for example when the frame regains
// focus.
func (v *Viewer) Play() { v.t.Play() }

// Pause stops active-time accounting.
func (v *Viewer) Pause() { v.t.Pause() }

// Suspend checkpoints with a page-N location and suspends.
func (v *Viewer) Suspend() error {
	return v.t.Suspend(fmt.Sprintf("page-%d", v.Page()))
}

// RequestResume asks the host for the latest checkpoint.
func (v *Viewer) RequestResume() error {
	return v.t.RequestResume()
}

// Complete evaluates the policy and reports completion.
func (v *Viewer) Complete() (tracker.CompletionResult, error) {
	return v.t.Complete()
}

// Close stops timers and the tracker.
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.scrollTimer != nil {
		v.scrollTimer.Stop()
		v.scrollTimer = nil
	}
	v.mu.Unlock()
	v.t.Close()
}

func (v *Viewer) render(page int) {
	v.mu.Lock()
	total := v.total
	v.rendered = true
	v.mu.Unlock()
	if total <= 0 {
		return
	}
	v.t.Advance(float64(page))
	p := v.t.Progress()
	current := p.Unit()
	scale := p.Settings[SettingScale]
	if v.cfg.Render != nil {
		v.cfg.Render(View{Page: current, Total: total, Scale: scale, ScrollTop: p.Settings[SettingScrollTop]})
	}
	v.t.Track(EventPageView, pageData{Page: current, Total: total})
	v.t.Track(EventPageChange, pageData{Page: current, Total: total, Scale: &scale})
}
