package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/relay"
	"github.com/JakeFAU/content-progress-bridge/internal/store"
	"github.com/JakeFAU/content-progress-bridge/internal/transport"
)

// ErrContentRequired is returned for envelopes that need a content id in
// their meta but carry none.
var ErrContentRequired = errors.New("content id is required")

// Session is one attached content frame.
type Session struct {
	svc       *Service
	learnerID string
	tr        transport.Transport
	logger    *zap.Logger

	mu        sync.RWMutex
	id        string
	location  string
	meta      envelope.Meta
	detached  bool
	limitKeys map[string]struct{}
}

// ID returns the session id, empty until the frame sent READY.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// LearnerID returns the learner the session was attached for.
func (s *Session) LearnerID() string {
	return s.learnerID
}

// Location returns the last LOCATION reported by the frame.
func (s *Session) Location() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}

// Meta returns a copy of the meta from the frame's latest envelope.
func (s *Session) Meta() envelope.Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Clone()
}

// Detach stops counting the session as active. Frames that still arrive are
// handled but no replies are sent.
func (s *Session) Detach() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	s.mu.Unlock()
	s.svc.detach(s)
}

// Handle processes one raw frame. Foreign traffic and inbound-only types are
// ignored without error; anything else that cannot be processed is returned
// for the caller to log.
func (s *Session) Handle(ctx context.Context, data []byte) error {
	env, err := envelope.Decode(data)
	if err != nil {
		if errors.Is(err, envelope.ErrForeignChannel) {
			return nil
		}
		s.svc.cfg.Observer.FrameRejected(rejectReason(err))
		return fmt.Errorf("decode frame: %w", err)
	}
	if !env.Type.Outbound() {
		return nil
	}

	ctx, span := s.svc.tracer.Start(ctx, "host.HandleEnvelope",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("bridge.type", string(env.Type)),
			attribute.String("bridge.content_id", env.Meta.ContentID()),
			attribute.String("bridge.learner_id", s.learnerID),
		),
	)
	defer span.End()

	if err := s.handle(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Session) handle(ctx context.Context, env envelope.Envelope) error {
	payload, err := env.Decode()
	if err != nil {
		s.svc.cfg.Observer.FrameRejected(rejectReason(err))
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	s.mu.Lock()
	s.meta = env.Meta.Clone()
	s.mu.Unlock()

	switch p := payload.(type) {
	case envelope.Ready:
		err = s.onReady(ctx, env, p)
	case envelope.Event:
		if !s.admitEvent(env) {
			return nil
		}
	case envelope.Location:
		s.mu.Lock()
		s.location = p.Location
		s.mu.Unlock()
	case envelope.State:
		err = s.saveCheckpoint(ctx, env, store.KindState, "", p.State)
	case envelope.Suspend:
		err = s.saveCheckpoint(ctx, env, store.KindSuspend, p.Location, p.State)
		if err == nil {
			s.archive(ctx, env)
		}
	case envelope.ResumeRequest:
		err = s.onResumeRequest(ctx, env)
	case envelope.Complete:
		err = s.saveCompletion(ctx, env, p)
	}
	if err != nil {
		return err
	}
	s.relay(env)
	return nil
}

func (s *Session) onReady(ctx context.Context, env envelope.Envelope, ready envelope.Ready) error {
	s.mu.Lock()
	id := s.id
	if id == "" {
		generated, err := s.svc.cfg.IDs.NewID()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("assign session id: %w", err)
		}
		s.id = generated
		id = generated
	}
	s.mu.Unlock()

	s.logger.Info("content frame ready",
		zap.String("session_id", id),
		zap.String("content_id", env.Meta.ContentID()),
		zap.String("user_agent", ready.UserAgent),
	)
	learner, err := json.Marshal(s.learnerID)
	if err != nil {
		return fmt.Errorf("marshal learner id: %w", err)
	}
	s.reply(ctx, env.Meta, envelope.Session{
		SessionID: id,
		Extra:     map[string]json.RawMessage{"learnerId": learner},
	})
	return nil
}

func (s *Session) admitEvent(env envelope.Envelope) bool {
	if s.svc.cfg.Limiter == nil {
		return true
	}
	key := s.learnerID + "/" + env.Meta.ContentID()
	s.mu.Lock()
	if s.limitKeys == nil {
		s.limitKeys = make(map[string]struct{})
	}
	s.limitKeys[key] = struct{}{}
	s.mu.Unlock()
	if s.svc.cfg.Limiter.Allow(key) {
		return true
	}
	s.svc.cfg.Observer.EventThrottled()
	s.logger.Debug("event throttled", zap.String("content_id", env.Meta.ContentID()))
	return false
}

func (s *Session) eventKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.limitKeys))
	for k := range s.limitKeys {
		keys = append(keys, k)
	}
	return keys
}

func (s *Session) usesEventKey(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.limitKeys[key]
	return ok
}

func (s *Session) saveCheckpoint(
	ctx context.Context,
	env envelope.Envelope,
	kind store.Kind,
	location string,
	state json.RawMessage,
) error {
	if env.Meta.ContentID() == "" {
		s.svc.cfg.Observer.FrameRejected("content_id")
		return ErrContentRequired
	}
	if kind == store.KindSuspend {
		s.mu.Lock()
		s.location = location
		s.mu.Unlock()
	}
	kept, err := s.svc.cfg.Repository.SaveCheckpoint(ctx, store.Checkpoint{
		LearnerID:      s.learnerID,
		ContentID:      env.Meta.ContentID(),
		ContentVersion: env.Meta.ContentVersion(),
		SessionID:      s.ID(),
		Kind:           kind,
		Location:       location,
		State:          state,
		TS:             env.Time(),
	})
	if err != nil {
		return fmt.Errorf("save %s checkpoint: %w", kind, err)
	}
	s.svc.cfg.Observer.CheckpointSaved(kind, kept)
	if !kept {
		s.logger.Debug("stale checkpoint ignored",
			zap.String("kind", string(kind)),
			zap.String("content_id", env.Meta.ContentID()),
			zap.Int64("ts", env.TS),
		)
	}
	return nil
}

func (s *Session) archive(ctx context.Context, env envelope.Envelope) {
	if s.svc.cfg.Archive == nil {
		return
	}
	data, err := envelope.Encode(env)
	if err != nil {
		s.logger.Warn("encode suspend for archive failed", zap.Error(err))
		return
	}
	objectPath := path.Join(
		s.svc.cfg.ArchivePrefix,
		s.learnerID,
		env.Meta.ContentID(),
		strconv.FormatInt(env.TS, 10)+".json",
	)
	uri, err := s.svc.cfg.Archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("archive suspend failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	s.logger.Debug("suspend archived", zap.String("uri", uri))
}

func (s *Session) onResumeRequest(ctx context.Context, env envelope.Envelope) error {
	if env.Meta.ContentID() == "" {
		s.svc.cfg.Observer.FrameRejected("content_id")
		return ErrContentRequired
	}
	cp, err := s.svc.cfg.Repository.LatestCheckpoint(ctx, s.learnerID, env.Meta.ContentID())
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("no checkpoint to resume", zap.String("content_id", env.Meta.ContentID()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	s.reply(ctx, env.Meta, envelope.ResumeData{State: cp.State})
	return nil
}

func (s *Session) saveCompletion(ctx context.Context, env envelope.Envelope, c envelope.Complete) error {
	if env.Meta.ContentID() == "" {
		s.svc.cfg.Observer.FrameRejected("content_id")
		return ErrContentRequired
	}
	err := s.svc.cfg.Repository.SaveCompletion(ctx, store.Completion{
		LearnerID:      s.learnerID,
		ContentID:      env.Meta.ContentID(),
		ContentVersion: env.Meta.ContentVersion(),
		SessionID:      s.ID(),
		Completion:     c.Completion,
		Success:        c.Success,
		ScoreRaw:       c.ScoreRaw,
		ScoreMax:       c.ScoreMax,
		TotalTimeMs:    c.TotalTimeMs,
		Detail:         c.Detail,
		TS:             env.Time(),
	})
	if err != nil {
		return fmt.Errorf("save completion: %w", err)
	}
	s.logger.Info("content completed",
		zap.String("content_id", env.Meta.ContentID()),
		zap.Bool("completion", c.Completion),
		zap.Bool("success", c.Success),
		zap.Float64("score_raw", c.ScoreRaw),
		zap.Int64("total_time_ms", c.TotalTimeMs),
	)
	return nil
}

func (s *Session) relay(env envelope.Envelope) {
	if s.svc.cfg.Relay == nil {
		return
	}
	s.svc.cfg.Relay.Emit(relay.Record{
		LearnerID:  s.learnerID,
		SessionID:  s.ID(),
		Envelope:   env,
		ReceivedAt: s.svc.cfg.Clock.Now(),
	})
}

// reply sends an inbound envelope back to the frame. Failures are logged and
// dropped, matching the at-most-once transport.
func (s *Session) reply(ctx context.Context, meta envelope.Meta, payload envelope.Payload) {
	s.mu.RLock()
	detached := s.detached
	s.mu.RUnlock()
	if s.tr == nil || detached {
		return
	}
	env, err := envelope.New(meta, payload, s.svc.cfg.Clock.Now())
	if err != nil {
		s.logger.Warn("build reply failed", zap.String("type", string(payload.Type())), zap.Error(err))
		return
	}
	if err := s.tr.Send(ctx, env); err != nil {
		s.logger.Debug("reply dropped", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, envelope.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, envelope.ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
