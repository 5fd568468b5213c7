package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/clock/system"
	"github.com/JakeFAU/content-progress-bridge/internal/id/uuid"
	"github.com/JakeFAU/content-progress-bridge/internal/relay"
	"github.com/JakeFAU/content-progress-bridge/internal/store"
	"github.com/JakeFAU/content-progress-bridge/internal/transport"
)

// ErrLearnerRequired is returned when a frame is attached without identity.
var ErrLearnerRequired = errors.New("learner id is required")

// IDGenerator produces session ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies receipt timestamps.
type Clock interface {
	Now() time.Time
}

// EventLimiter admits EVENT envelopes per key without blocking. Forget is
// called once no attached session uses key.
type EventLimiter interface {
	Allow(key string) bool
	Forget(key string)
}

// Observer receives host-level counters. All methods must be cheap and safe
// for concurrent use.
type Observer interface {
	SessionOpened()
	SessionClosed()
	FrameRejected(reason string)
	EventThrottled()
	CheckpointSaved(kind store.Kind, kept bool)
}

// Config wires the host's collaborators. Repository is required; everything
// else is optional.
type Config struct {
	Repository store.ProgressRepository
	// Archive receives a copy of every SUSPEND envelope when set.
	Archive       store.BlobStore
	ArchivePrefix string
	Relay         relay.Emitter
	Limiter       EventLimiter
	IDs           IDGenerator
	Clock         Clock
	Observer      Observer
	// SendTimeout bounds each reply written back to a frame (default 5s).
	SendTimeout time.Duration
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

const defaultSendTimeout = 5 * time.Second

// Service owns the sessions attached to this host.
type Service struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewService validates cfg and fills defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("progress repository is required")
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "suspend"
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/JakeFAU/content-progress-bridge/internal/host")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Attach binds a frame's transport to a new session and starts handling its
// inbound frames. A nil transport yields a session that cannot reply, which
// suits one-shot beacon deliveries.
func (s *Service) Attach(learnerID string, tr transport.Transport) (*Session, error) {
	if learnerID == "" {
		return nil, ErrLearnerRequired
	}
	sess := &Session{
		svc:       s,
		learnerID: learnerID,
		tr:        tr,
		logger:    s.logger.With(zap.String("learner_id", learnerID)),
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.cfg.Observer.SessionOpened()

	if tr != nil {
		tr.OnReceive(func(data []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
			defer cancel()
			if err := sess.Handle(ctx, data); err != nil {
				sess.logger.Debug("frame rejected", zap.Error(err))
			}
		})
	}
	return sess, nil
}

// ActiveSessions reports how many sessions are attached.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Deliver handles a single frame outside any attached session, as sent by a
// page-unload beacon. Replies are impossible and are not attempted.
func (s *Service) Deliver(ctx context.Context, learnerID string, data []byte) error {
	if learnerID == "" {
		return ErrLearnerRequired
	}
	sess := &Session{
		svc:       s,
		learnerID: learnerID,
		logger:    s.logger.With(zap.String("learner_id", learnerID), zap.Bool("beacon", true)),
	}
	defer s.releaseEventKeys(sess)
	return sess.Handle(ctx, data)
}

// Checkpoint returns the stored checkpoint for a learner and content.
func (s *Service) Checkpoint(ctx context.Context, learnerID, contentID string) (store.Checkpoint, error) {
	cp, err := s.cfg.Repository.LatestCheckpoint(ctx, learnerID, contentID)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// Completion returns the stored completion report for a learner and content.
func (s *Service) Completion(ctx context.Context, learnerID, contentID string) (store.Completion, error) {
	c, err := s.cfg.Repository.LatestCompletion(ctx, learnerID, contentID)
	if err != nil {
		return store.Completion{}, fmt.Errorf("load completion: %w", err)
	}
	return c, nil
}

func (s *Service) detach(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.releaseEventKeys(sess)
	if ok {
		s.cfg.Observer.SessionClosed()
	}
}

// releaseEventKeys forgets the limiter buckets sess used that no attached
// session still uses.
func (s *Service) releaseEventKeys(sess *Session) {
	if s.cfg.Limiter == nil {
		return
	}
	var unused []string
	s.mu.RLock()
	for _, key := range sess.eventKeys() {
		if !s.eventKeyInUseLocked(key) {
			unused = append(unused, key)
		}
	}
	s.mu.RUnlock()
	for _, key := range unused {
		s.cfg.Limiter.Forget(key)
	}
}

func (s *Service) eventKeyInUseLocked(key string) bool {
	for other := range s.sessions {
		if other.usesEventKey(key) {
			return true
		}
	}
	return false
}

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}
func (nopObserver) FrameRejected(string) {}
func (nopObserver) EventThrottled() {}
func (nopObserver) CheckpointSaved(store.Kind, bool) {}
