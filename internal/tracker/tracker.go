package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/bridge"
	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
)

// State is the lifecycle position of a Tracker.
type State int

// Tracker states.
const (
	StateUninitialized State = iota
	StateReady
	StateActive
	StatePaused
	StateSuspended
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Axis selects the value throttles observe.
type Axis int

const (
	// AxisPosition throttles on unit position (video seconds).
	AxisPosition Axis = iota
	// AxisElapsed throttles on active seconds (documents).
	AxisElapsed
)

// Bridge is the subset of *bridge.Bridge a Tracker drives.
type Bridge interface {
	OnSession(fn func(envelope.Session) error) error
	OnResumeData(fn func(envelope.ResumeData) error) error
	Track(eventType string, data any) error
	SaveState(state any) error
	RequestResume() error
	Suspend(req bridge.SuspendRequest) error
	Complete(req bridge.CompleteRequest) error
}

// Clock abstracts time for ticks.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// TelemetryFunc builds the EVENT emitted when the telemetry throttle fires.
type TelemetryFunc func(p Progress) (eventType string, data any)

const (
	defaultTickInterval = time.Second
	// DefaultTelemetryEvent is the event type used without a TelemetryFunc.
	DefaultTelemetryEvent = "PROGRESS"
)

// Config controls a Tracker.
//   - Codec, Policy: required content-type plug-ins.
//   - Axis: what the throttles observe.
//   - TelemetryInterval, PersistInterval: throttle intervals in axis units;
//     zero disables the throttle.
//   - TickInterval: Run's tick period (default 1s).
//   - MaxTickDelta: larger tick deltas are discarded (default 2×TickInterval).
//   - MinPosition: lower clamp bound (0 for video, 1 for pages).
//   - Telemetry: builds throttled telemetry events.
//   - Seek: called after a resumed position is applied.
type Config struct {
	Codec             Codec
	Policy            Policy
	Axis              Axis
	TelemetryInterval float64
	PersistInterval   float64
	TickInterval      time.Duration
	MaxTickDelta      time.Duration
	MinPosition       float64
	Telemetry         TelemetryFunc
	Seek              func(position float64)
	Clock             Clock
	Logger            *zap.Logger
}

// Tracker is the progress state machine for one content instance. It is safe
// for concurrent use; bridge calls are always made without holding the lock.
type Tracker struct {
	br     Bridge
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	progress     Progress
	sessionID    string
	surfaceReady bool
	pending      *float64
	lastTick     time.Time
	telemetry    *Throttle
	persist      *Throttle
	cancel       context.CancelFunc
	closed       bool
}

// New builds a Tracker and registers its SESSION and RESUME_DATA listeners on
// br.
func New(br Bridge, cfg Config) (*Tracker, error) {
	if br == nil {
		return nil, errors.New("bridge is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("codec is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("policy is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MaxTickDelta <= 0 {
		cfg.MaxTickDelta = 2 * cfg.TickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockFunc(time.Now)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		br:     br,
		cfg:    cfg,
		logger: logger,
		progress: Progress{
			Position: cfg.MinPosition,
			Visited:  make(UnitSet),
			Settings: make(map[string]float64),
		},
		telemetry: NewThrottle(cfg.TelemetryInterval),
		persist:   NewThrottle(cfg.PersistInterval),
	}
	if err := br.OnSession(t.onSession); err != nil {
		return nil, fmt.Errorf("register session listener: %w", err)
	}
	if err := br.OnResumeData(t.onResumeData); err != nil {
		return nil, fmt.Errorf("register resume listener: %w", err)
	}
	return t, nil
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress returns a copy of the tracked progress.
func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Clone()
}

// SessionID returns the host session id, if one was delivered.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SurfaceReady records that the content surface can accept a position and
// sets the authoritative duration. A pending resumed position is applied
// exactly once.
func (t *Tracker) SurfaceReady(duration float64) {
	var actions []func()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if duration > 0 && !math.IsInf(duration, 0) {
		t.progress.Duration = duration
	}
	t.surfaceReady = true
	t.boundVisitedLocked()
	t.progress.Position = t.clamp(t.progress.Position)
	if t.pending != nil {
		pos := t.clamp(*t.pending)
		t.pending = nil
		actions = append(actions, t.applyPositionLocked(pos)...)
	}
	t.mu.Unlock()
	t.run(actions)
}

// Advance records a native progress signal at position.
func (t *Tracker) Advance(position float64) {
	var actions []func()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	pos := t.clamp(position)
	prevUnit := t.progress.Unit()
	t.progress.Position = pos
	unit := t.progress.Unit()
	if unit != prevUnit {
		t.progress.UnitElapsed = 0
	}
	t.progress.Visited.Add(unit)
	if t.cfg.Axis == AxisPosition {
		actions = t.observeLocked(pos)
	}
	t.mu.Unlock()
	t.run(actions)
}

// Play enters Active. Completed is sticky.
func (t *Tracker) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.state == StateCompleted || t.state == StateActive {
		return
	}
	t.state = StateActive
	t.lastTick = t.cfg.Clock.Now()
}

// Pause leaves Active.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateActive {
		t.state = StatePaused
	}
}

// Tick advances active time to now. Ticks outside Active, and deltas that are
// non-positive or larger than MaxTickDelta, are discarded.
func (t *Tracker) Tick(now time.Time) {
	var actions []func()
	t.mu.Lock()
	if t.closed || t.state != StateActive {
		t.mu.Unlock()
		return
	}
	delta := now.Sub(t.lastTick)
	if delta > 0 {
		t.lastTick = now
	}
	if delta <= 0 || delta > t.cfg.MaxTickDelta {
		t.mu.Unlock()
		t.logger.Debug("tick delta discarded", zap.Duration("delta", delta))
		return
	}
	t.progress.Elapsed += delta
	t.progress.UnitElapsed += delta
	if t.cfg.Axis == AxisElapsed {
		actions = t.observeLocked(t.progress.Elapsed.Seconds())
	}
	t.mu.Unlock()
	t.run(actions)
}

// Run ticks every TickInterval until ctx ends or Close is called.
func (t *Tracker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	t.mu.Unlock()

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(t.cfg.Clock.Now())
		}
	}
}

// Close stops Run and makes every later call a no-op.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// SetSetting stores a presentation value carried in checkpoints.
func (t *Tracker) SetSetting(key string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Settings[key] = value
}

// Setting returns a presentation value.
func (t *Tracker) Setting(key string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.progress.Settings[key]
	return v, ok
}

// Track forwards a content event through the bridge.
func (t *Tracker) Track(eventType string, data any) {
	if t.isClosed() {
		return
	}
	t.report("track", t.br.Track(eventType, data))
}

// Checkpoint encodes the current progress.
func (t *Tracker) Checkpoint() (json.RawMessage, error) {
	p := t.Progress()
	raw, err := t.cfg.Codec.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return raw, nil
}

// SaveState sends a STATE checkpoint immediately.
func (t *Tracker) SaveState() error {
	if t.isClosed() {
		return nil
	}
	raw, err := t.Checkpoint()
	if err != nil {
		return err
	}
	return t.br.SaveState(raw)
}

// Suspend sends a SUSPEND checkpoint and enters Suspended.
func (t *Tracker) Suspend(location string) error {
	if t.isClosed() {
		return nil
	}
	raw, err := t.Checkpoint()
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.state != StateCompleted {
		t.state = StateSuspended
	}
	t.mu.Unlock()
	return t.br.Suspend(bridge.SuspendRequest{Location: location, State: raw})
}

// RequestResume asks the host for the latest checkpoint. State is unchanged
// until RESUME_DATA arrives.
func (t *Tracker) RequestResume() error {
	if t.isClosed() {
		return nil
	}
	return t.br.RequestResume()
}

// Complete evaluates the policy, sends COMPLETE and enters Completed. It may
// be called again.
func (t *Tracker) Complete() (CompletionResult, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return CompletionResult{}, nil
	}
	p := t.progress.Clone()
	t.state = StateCompleted
	t.mu.Unlock()

	res := t.cfg.Policy.Evaluate(p)
	err := t.br.Complete(bridge.CompleteRequest{
		Completion:  res.Completion,
		Success:     res.Success,
		ScoreRaw:    res.ScoreRaw,
		ScoreMax:    res.ScoreMax,
		TotalTimeMs: p.Elapsed.Milliseconds(),
		Detail:      res.Detail,
	})
	return res, err
}

func (t *Tracker) onSession(s envelope.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.sessionID = s.SessionID
	if t.state == StateUninitialized {
		t.state = StateReady
	}
	return nil
}

func (t *Tracker) onResumeData(rd envelope.ResumeData) error {
	if len(rd.State) == 0 || string(rd.State) == "null" {
		return nil
	}
	snap, err := t.cfg.Codec.Decode(rd.State)
	if err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	var actions []func()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if snap.Duration != nil && t.progress.Duration <= 0 && *snap.Duration > 0 {
		t.progress.Duration = *snap.Duration
	}
	for _, u := range snap.Visited {
		t.progress.Visited.Add(u)
	}
	if t.surfaceReady {
		t.boundVisitedLocked()
	}
	if snap.Elapsed != nil && *snap.Elapsed >= 0 {
		t.progress.Elapsed = *snap.Elapsed
		if t.cfg.Axis == AxisElapsed {
			t.telemetry.Rebase(t.progress.Elapsed.Seconds())
			t.persist.Rebase(t.progress.Elapsed.Seconds())
		}
	}
	for k, v := range snap.Settings {
		t.progress.Settings[k] = v
	}
	if snap.Position != nil {
		if t.surfaceReady {
			actions = t.applyPositionLocked(t.clamp(*snap.Position))
		} else {
			pos := *snap.Position
			t.pending = &pos
		}
	}
	if t.state == StateSuspended {
		t.state = StatePaused
	}
	t.mu.Unlock()
	t.run(actions)
	return nil
}

// applyPositionLocked moves to a resumed position without counting it as
// progress.
func (t *Tracker) applyPositionLocked(pos float64) []func() {
	if t.progress.Unit() != int(math.Floor(pos)) {
		t.progress.UnitElapsed = 0
	}
	t.progress.Position = pos
	if t.cfg.Axis == AxisPosition {
		t.telemetry.Rebase(pos)
		t.persist.Rebase(pos)
	}
	if t.cfg.Seek == nil {
		return nil
	}
	seek := t.cfg.Seek
	return []func(){func() { seek(pos) }}
}

// observeLocked feeds the throttles and returns the sends they triggered.
func (t *Tracker) observeLocked(v float64) []func() {
	var actions []func()
	if t.telemetry.Observe(v) {
		p := t.progress.Clone()
		actions = append(actions, func() {
			eventType, data := DefaultTelemetryEvent, any(defaultTelemetry(p))
			if t.cfg.Telemetry != nil {
				eventType, data = t.cfg.Telemetry(p)
			}
			t.report("telemetry", t.br.Track(eventType, data))
		})
	}
	if t.persist.Observe(v) {
		p := t.progress.Clone()
		actions = append(actions, func() {
			raw, err := t.cfg.Codec.Encode(p)
			if err != nil {
				t.report("encode checkpoint", err)
				return
			}
			t.report("save state", t.br.SaveState(raw))
		})
	}
	return actions
}

// boundVisitedLocked drops visited units the content does not have, such as
// pages from a checkpoint of a longer version.
func (t *Tracker) boundVisitedLocked() {
	if t.progress.Duration <= 0 {
		return
	}
	lo := int(math.Floor(t.cfg.MinPosition))
	hi := int(math.Floor(t.progress.Duration))
	if n := t.progress.Visited.Retain(lo, hi); n > 0 {
		t.logger.Debug("dropped out of range visited units", zap.Int("count", n))
	}
}

func (t *Tracker) clamp(pos float64) float64 {
	if math.IsNaN(pos) || math.IsInf(pos, 0) || pos < t.cfg.MinPosition {
		return t.cfg.MinPosition
	}
	if t.progress.Duration > 0 && pos > t.progress.Duration {
		return t.progress.Duration
	}
	return pos
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) run(actions []func()) {
	for _, a := range actions {
		a()
	}
}

func (t *Tracker) report(op string, err error) {
	if err != nil {
		t.logger.Warn("tracker send failed", zap.String("op", op), zap.Error(err))
	}
}

type telemetryData struct {
	Position     float64 `json:"position"`
	Duration     float64 `json:"duration"`
	VisitedCount int     `json:"visitedCount"`
	ElapsedSec   float64 `json:"elapsedSec"`
}

func defaultTelemetry(p Progress) telemetryData {
	return telemetryData{
		Position:     p.Position,
		Duration:     p.Duration,
		VisitedCount: p.Visited.Len(),
		ElapsedSec:   p.Elapsed.Seconds(),
	}
}
