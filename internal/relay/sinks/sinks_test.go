package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/publisher"
	memorypublisher "github.com/JakeFAU/content-progress-bridge/internal/publisher/memory"
	"github.com/JakeFAU/content-progress-bridge/internal/relay"
)

func record(t *testing.T, payload envelope.Payload) relay.Record {
	t.Helper()
	meta := envelope.NewMeta().Merge(envelope.Meta{
		envelope.MetaContentID:      "mp4-001",
		envelope.MetaContentVersion: "3",
	})
	sent := time.UnixMilli(1_700_000_000_000)
	env, err := envelope.New(meta, payload, sent)
	require.NoError(t, err)
	return relay.Record{
		LearnerID:  "learner-1",
		SessionID:  "sess-1",
		Envelope:   env,
		ReceivedAt: sent.Add(20 * time.Millisecond),
	}
}

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move per envelope type.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []relay.Record{
		record(t, envelope.Ready{UserAgent: "test"}),
		record(t, envelope.Event{EventType: "VIDEO_PLAY"}),
		record(t, envelope.Event{EventType: "VIDEO_PLAY"}),
		record(t, envelope.Complete{Completion: true, Success: true, ScoreRaw: 100, ScoreMax: 100, TotalTimeMs: 81000}),
		record(t, envelope.Complete{TotalTimeMs: 0}),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.envelopes.WithLabelValues("READY")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.envelopes.WithLabelValues("EVENT")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues("VIDEO_PLAY")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completions.WithLabelValues("passed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.completions.WithLabelValues("incomplete")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.activeTime, "bridge_completion_active_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.latency, "bridge_envelope_latency_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesOneLinePerRecord(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []relay.Record{
		record(t, envelope.Location{Location: "page-3"}),
		record(t, envelope.ResumeRequest{}),
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "LOCATION", entries[0].ContextMap()["type"])
	require.Equal(t, "mp4-001", entries[0].ContextMap()["content_id"])
	require.NoError(t, sink.Close(context.Background()))
}

func TestPublisherSinkForwardsSelectedTypes(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sink, err := NewPublisherSink(pub, PublisherSinkConfig{
		Topic: "envelopes",
		Types: []envelope.Type{envelope.TypeComplete, envelope.TypeSuspend},
	})
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []relay.Record{
		record(t, envelope.Ready{}),
		record(t, envelope.Complete{Completion: true}),
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "envelopes", msgs[0].Topic)
	attrs := msgs[0].Message.Attributes
	require.Equal(t, "COMPLETE", attrs["type"])
	require.Equal(t, "learner-1", attrs["learner_id"])
	require.Equal(t, "mp4-001", attrs["content_id"])
	require.Equal(t, "3", attrs["content_version"])
	require.Equal(t, "1700000000000", attrs["ts"])

	var body struct {
		LearnerID  string            `json:"learnerId"`
		ReceivedAt int64             `json:"receivedAt"`
		Envelope   envelope.Envelope `json:"envelope"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Message.Data, &body))
	require.Equal(t, "learner-1", body.LearnerID)
	require.Equal(t, int64(1_700_000_000_020), body.ReceivedAt)
	require.Equal(t, envelope.TypeComplete, body.Envelope.Type)
}

func TestPublisherSinkContinuesPastFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	failing := publisherFunc(func(context.Context, string, publisher.Message) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("unavailable")
		}
		return "ok", nil
	})
	sink, err := NewPublisherSink(failing, PublisherSinkConfig{Topic: "t"})
	require.NoError(t, err)

	err = sink.Consume(context.Background(), []relay.Record{
		record(t, envelope.Ready{}),
		record(t, envelope.Ready{}),
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestNewPublisherSinkRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherSink(nil, PublisherSinkConfig{})
	require.Error(t, err)
}

type publisherFunc func(context.Context, string, publisher.Message) (string, error)

func (f publisherFunc) Publish(ctx context.Context, topic string, msg publisher.Message) (string, error) {
	return f(ctx, topic, msg)
}
