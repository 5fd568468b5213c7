package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/publisher"
	"github.com/JakeFAU/content-progress-bridge/internal/relay"
)

// PublisherSink ships each relayed envelope to a topic. The message body is
// the wire envelope wrapped with host identity; attributes mirror the fields
// consumers filter on.
type PublisherSink struct {
	pub    publisher.Publisher
	topic  string
	types  map[envelope.Type]struct{}
	logger *zap.Logger
}

// PublisherSinkConfig scopes what the sink forwards.
type PublisherSinkConfig struct {
	Topic string
	// Types limits forwarding to these envelope types. Empty forwards all.
	Types  []envelope.Type
	Logger *zap.Logger
}

type publishedRecord struct {
	LearnerID  string            `json:"learnerId"`
	SessionID  string            `json:"sessionId,omitempty"`
	ReceivedAt int64             `json:"receivedAt"`
	Envelope   envelope.Envelope `json:"envelope"`
}

// NewPublisherSink constructs a PublisherSink.
func NewPublisherSink(pub publisher.Publisher, cfg PublisherSinkConfig) (*PublisherSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var types map[envelope.Type]struct{}
	if len(cfg.Types) > 0 {
		types = make(map[envelope.Type]struct{}, len(cfg.Types))
		for _, t := range cfg.Types {
			types[t] = struct{}{}
		}
	}
	return &PublisherSink{pub: pub, topic: cfg.Topic, types: types, logger: logger}, nil
}

// Consume publishes every selected record. Publishing continues past
// individual failures; the joined error is returned to the hub for logging.
func (s *PublisherSink) Consume(ctx context.Context, batch []relay.Record) error {
	var errs []error
	for _, rec := range batch {
		if s.types != nil {
			if _, ok := s.types[rec.Envelope.Type]; !ok {
				continue
			}
		}
		msg, err := toMessage(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", rec.Envelope.Type, err))
			continue
		}
		s.logger.Debug("published envelope", zap.String("message_id", id), zap.String("type", string(rec.Envelope.Type)))
	}
	return errors.Join(errs...)
}

func toMessage(rec relay.Record) (publisher.Message, error) {
	data, err := json.Marshal(publishedRecord{
		LearnerID:  rec.LearnerID,
		SessionID:  rec.SessionID,
		ReceivedAt: rec.ReceivedAt.UnixMilli(),
		Envelope:   rec.Envelope,
	})
	if err != nil {
		return publisher.Message{}, fmt.Errorf("marshal record: %w", err)
	}
	return publisher.Message{
		Data: data,
		Attributes: map[string]string{
			"type":            string(rec.Envelope.Type),
			"learner_id":      rec.LearnerID,
			"content_id":      rec.ContentID(),
			"content_version": rec.Envelope.Meta.ContentVersion(),
			"ts":              strconv.FormatInt(rec.Envelope.TS, 10),
		},
	}, nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
