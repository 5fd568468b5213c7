package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/relay"
)

// LogSink emits one structured log line per relayed envelope. It is useful
// during development or audits where no downstream consumer is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each record in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []relay.Record) error {
	for _, rec := range batch {
		s.logger.Info("relayed envelope",
			zap.String("learner_id", rec.LearnerID),
			zap.String("session_id", rec.SessionID),
			zap.String("type", string(rec.Envelope.Type)),
			zap.String("content_id", rec.ContentID()),
			zap.String("content_version", rec.Envelope.Meta.ContentVersion()),
			zap.Int("payload_bytes", len(rec.Envelope.Payload)),
			zap.Duration("latency", rec.Latency()),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
