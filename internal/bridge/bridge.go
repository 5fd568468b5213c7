package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport"
)

const (
	defaultUserAgent   = "content-progress-bridge"
	defaultSendTimeout = 5 * time.Second
)

// Clock abstracts time for envelope timestamps.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// ErrNotInitialized is returned by sends made before the first Init.
var ErrNotInitialized = errors.New("bridge: not initialized")

// Listener handles one inbound payload. A returned error or a panic is logged
// and does not affect sibling listeners.
type Listener func(envelope.Payload) error

// Config controls a Bridge.
//   - UserAgent: identification string carried by READY.
//   - SendTimeout: bound on a single transport send (default 5s).
//   - BaseContext: parent context for sends (defaults to context.Background()).
//   - Clock: timestamp source (defaults to time.Now).
//   - Logger: optional structured logger.
type Config struct {
	UserAgent   string
	SendTimeout time.Duration
	BaseContext context.Context
	Clock       Clock
	Logger      *zap.Logger
}

// SuspendRequest is the argument to Suspend.
type SuspendRequest struct {
	Location string
	State    any
}

// CompleteRequest is the argument to Complete.
type CompleteRequest struct {
	Completion  bool
	Success     bool
	ScoreRaw    float64
	ScoreMax    float64
	TotalTimeMs int64
	Detail      any
}

// Bridge mediates envelope traffic for one content frame.
type Bridge struct {
	tr     transport.Transport
	cfg    Config
	logger *zap.Logger

	mu          sync.RWMutex
	meta        envelope.Meta
	initialized bool
	listeners   map[envelope.Type][]Listener
}

// New installs the bridge's single inbound handler on tr. Nothing is sent
// until Init, so listeners registered in between see the host's first reply.
func New(tr transport.Transport, cfg Config) (*Bridge, error) {
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockFunc(time.Now)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		tr:        tr,
		cfg:       cfg,
		logger:    logger,
		meta:      envelope.NewMeta(),
		listeners: make(map[envelope.Type][]Listener),
	}
	tr.OnReceive(b.receive)
	return b, nil
}

// Init merges meta into the bridge identity and sends READY. The first call
// enables sending; later calls re-announce the frame. Keys absent from meta
// keep their previous values.
func (b *Bridge) Init(meta envelope.Meta) error {
	b.mu.Lock()
	b.meta = b.meta.Merge(meta)
	b.initialized = true
	b.mu.Unlock()
	return b.send(envelope.Ready{UserAgent: b.cfg.UserAgent})
}

// Meta returns a copy of the current identity.
func (b *Bridge) Meta() envelope.Meta {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta.Clone()
}

// On registers l for inbound messages of type t. Listeners run in
// registration order.
func (b *Bridge) On(t envelope.Type, l Listener) error {
	if !t.Inbound() {
		return fmt.Errorf("register listener: %q is not an inbound type", t)
	}
	if l == nil {
		return errors.New("register listener: listener is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], l)
	return nil
}

// OnSession registers a typed SESSION listener.
func (b *Bridge) OnSession(fn func(envelope.Session) error) error {
	if fn == nil {
		return errors.New("register listener: listener is nil")
	}
	return b.On(envelope.TypeSession, func(p envelope.Payload) error {
		s, ok := p.(envelope.Session)
		if !ok {
			return fmt.Errorf("unexpected payload %T", p)
		}
		return fn(s)
	})
}

// OnResumeData registers a typed RESUME_DATA listener.
func (b *Bridge) OnResumeData(fn func(envelope.ResumeData) error) error {
	if fn == nil {
		return errors.New("register listener: listener is nil")
	}
	return b.On(envelope.TypeResumeData, func(p envelope.Payload) error {
		rd, ok := p.(envelope.ResumeData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", p)
		}
		return fn(rd)
	})
}

// Track sends an EVENT. data is marshaled as JSON unless it already is raw
// JSON.
func (b *Bridge) Track(eventType string, data any) error {
	if eventType == "" {
		return errors.New("track: event type is required")
	}
	raw, err := marshalOpaque(data)
	if err != nil {
		return fmt.Errorf("track %s: %w", eventType, err)
	}
	return b.send(envelope.Event{EventType: eventType, Data: raw})
}

// SetLocation sends a LOCATION.
func (b *Bridge) SetLocation(location string) error {
	return b.send(envelope.Location{Location: location})
}

// SaveState sends a STATE checkpoint. Callers throttle.
func (b *Bridge) SaveState(state any) error {
	raw, err := marshalOpaque(state)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return b.send(envelope.State{State: raw})
}

// RequestResume asks the host for the latest checkpoint. The answer, if any,
// arrives through the RESUME_DATA listeners.
func (b *Bridge) RequestResume() error {
	return b.send(envelope.ResumeRequest{})
}

// Suspend sends a SUSPEND checkpoint.
func (b *Bridge) Suspend(req SuspendRequest) error {
	raw, err := marshalOpaque(req.State)
	if err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	return b.send(envelope.Suspend{Location: req.Location, State: raw})
}

// Complete sends a COMPLETE. Later sends are not blocked.
func (b *Bridge) Complete(req CompleteRequest) error {
	detail, err := marshalOpaque(req.Detail)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return b.send(envelope.Complete{
		Completion:  req.Completion,
		Success:     req.Success,
		ScoreRaw:    req.ScoreRaw,
		ScoreMax:    req.ScoreMax,
		TotalTimeMs: req.TotalTimeMs,
		Detail:      detail,
	})
}

// send builds and posts an envelope. Transport failures are logged and
// dropped; only local failures are returned.
func (b *Bridge) send(payload envelope.Payload) error {
	b.mu.RLock()
	ready := b.initialized
	meta := b.meta.Clone()
	b.mu.RUnlock()
	if !ready {
		return fmt.Errorf("send %s: %w", payload.Type(), ErrNotInitialized)
	}
	env, err := envelope.New(meta, payload, b.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(b.cfg.BaseContext, b.cfg.SendTimeout)
	defer cancel()
	if err := b.tr.Send(ctx, env); err != nil {
		b.logger.Debug("outbound envelope dropped",
			zap.String("type", string(env.Type)),
			zap.String("content_id", meta.ContentID()),
			zap.Error(err),
		)
	}
	return nil
}

func (b *Bridge) receive(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		if !errors.Is(err, envelope.ErrForeignChannel) {
			b.logger.Debug("inbound frame ignored", zap.Error(err))
		}
		return
	}
	if !env.Type.Inbound() {
		return
	}
	payload, err := env.Decode()
	if err != nil {
		b.logger.Debug("inbound payload rejected", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	b.dispatch(env.Type, payload)
}

func (b *Bridge) dispatch(t envelope.Type, payload envelope.Payload) {
	b.mu.RLock()
	snapshot := append([]Listener(nil), b.listeners[t]...)
	b.mu.RUnlock()
	for i, l := range snapshot {
		b.invoke(t, i, l, payload)
	}
}

func (b *Bridge) invoke(t envelope.Type, index int, l Listener, payload envelope.Payload) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("bridge listener panicked",
				zap.String("type", string(t)),
				zap.Int("listener", index),
				zap.Any("panic", r),
			)
		}
	}()
	if err := l(payload); err != nil {
		b.logger.Warn("bridge listener failed",
			zap.String("type", string(t)),
			zap.Int("listener", index),
			zap.Error(err),
		)
	}
}

func marshalOpaque(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return val, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}
