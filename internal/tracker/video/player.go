// Package video instantiates the progress tracker for a playable video: units
// are seconds of playback position, telemetry and checkpoints are throttled on
// position, and completion defaults to an 80% watch ratio.
package video

import (
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/policy/watchratio"
	"github.com/JakeFAU/content-progress-bridge/internal/tracker"
)

// Event types sent by a Player.
const (
	EventReady    = "VIDEO_READY"
	EventPlay     = "VIDEO_PLAY"
	EventPause    = "VIDEO_PAUSE"
	EventEnded    = "VIDEO_ENDED"
	EventSeek     = "VIDEO_SEEK"
	EventRate     = "VIDEO_RATE"
	EventMuted    = "VIDEO_MUTED"
	EventUnmuted  = "VIDEO_UNMUTED"
	EventProgress = "VIDEO_PROGRESS"
)

// Location is the suspend location reported for video content.
const Location = "video"

const (
	// DefaultTelemetryInterval is seconds of position between VIDEO_PROGRESS events.
	DefaultTelemetryInterval = 5
	// DefaultPersistInterval is seconds of position between STATE checkpoints.
	DefaultPersistInterval = 3
)

// Config controls a Player. Zero intervals take the defaults; Policy defaults
// to watchratio.New(watchratio.DefaultThreshold).
type Config struct {
	TelemetryInterval float64
	PersistInterval   float64
	TickInterval      time.Duration
	MaxTickDelta      time.Duration
	Policy            tracker.Policy
	// Seek moves the underlying surface to a resumed position.
	Seek   func(position float64)
	Clock  tracker.Clock
	Logger *zap.Logger
}

// Player tracks one video.
type Player struct {
	t *tracker.Tracker

	mu    sync.Mutex
	muted bool
	rate  float64
}

type progressData struct {
	Position     int     `json:"position"`
	Duration     int     `json:"duration"`
	WatchedRatio float64 `json:"watchedRatio"`
}

type positionData struct {
	Position float64 `json:"position"`
}

// New builds a Player on br.
func New(br tracker.Bridge, cfg Config) (*Player, error) {
	if br == nil {
		return nil, errors.New("bridge is required")
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}
	if cfg.Policy == nil {
		cfg.Policy = watchratio.New(watchratio.DefaultThreshold)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t, err := tracker.New(br, tracker.Config{
		Codec:             Codec{},
		Policy:            cfg.Policy,
		Axis:              tracker.AxisPosition,
		TelemetryInterval: cfg.TelemetryInterval,
		PersistInterval:   cfg.PersistInterval,
		TickInterval:      cfg.TickInterval,
		MaxTickDelta:      cfg.MaxTickDelta,
		Telemetry:         telemetry,
		Seek:              cfg.Seek,
		Clock:             cfg.Clock,
		Logger:            logger.Named("video"),
	})
	if err != nil {
		return nil, err
	}
	return &Player{t: t, rate: 1}, nil
}

func telemetry(p tracker.Progress) (string, any) {
	ratio := 0.0
	if p.Duration > 0 {
		ratio = p.Position / p.Duration
	}
	return EventProgress, progressData{
		Position:     int(math.Floor(p.Position)),
		Duration:     int(math.Floor(p.Duration)),
		WatchedRatio: ratio,
	}
}

// Tracker exposes the underlying state machine.
func (p *Player) Tracker() *tracker.Tracker { return p.t }

// Loaded reports that metadata is available. A resumed position waiting for
// readiness is applied now.
func (p *Player) Loaded(duration float64) {
	p.t.SurfaceReady(duration)
	p.t.Track(EventReady, map[string]float64{"duration": p.t.Progress().Duration})
}

// TimeUpdate is the native playback progress signal.
func (p *Player) TimeUpdate(position float64) {
	p.t.Advance(position)
}

// Play starts active-time accounting.
func (p *Player) Play() {
	p.t.Play()
	p.t.Track(EventPlay, positionData{Position: p.t.Progress().Position})
}

// Pause stops active-time accounting.
func (p *Player) Pause() {
	p.t.Pause()
	p.t.Track(EventPause, positionData{Position: p.t.Progress().Position})
}

// Ended reports the end of playback.
func (p *Player) Ended() {
	p.t.Pause()
	p.t.Track(EventEnded, positionData{Position: p.t.Progress().Duration})
}

// SeekTo records a user seek.
func (p *Player) SeekTo(position float64) {
	p.t.Advance(position)
	p.t.Track(EventSeek, map[string]int{"position": p.t.Progress().Unit()})
}

// SetRate records a playback rate change.
func (p *Player) SetRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) {
		return
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
	p.t.Track(EventRate, map[string]float64{"rate": rate})
}

// Rate returns the playback rate.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// ToggleMute flips the muted flag and reports it.
func (p *Player) ToggleMute() bool {
	p.mu.Lock()
	p.muted = !p.muted
	muted := p.muted
	p.mu.Unlock()
	eventType := EventUnmuted
	if muted {
		eventType = EventMuted
	}
	p.t.Track(eventType, struct{}{})
	return muted
}

// Suspend checkpoints and suspends.
func (p *Player) Suspend() error {
	return p.t.Suspend(Location)
}

// RequestResume asks the host for the latest checkpoint.
func (p *Player) RequestResume() error {
	return p.t.RequestResume()
}

// Complete evaluates the policy and reports completion.
func (p *Player) Complete() (tracker.CompletionResult, error) {
	return p.t.Complete()
}
