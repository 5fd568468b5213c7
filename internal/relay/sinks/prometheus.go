package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/relay"
)

// PrometheusSink exports envelope traffic metrics via Prometheus.
type PrometheusSink struct {
	envelopes    *prometheus.CounterVec
	events       *prometheus.CounterVec
	completions  *prometheus.CounterVec
	payloadBytes *prometheus.HistogramVec
	latency      prometheus.Histogram
	activeTime   prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_envelopes_total",
			Help: "Envelopes received from content frames partitioned by type.",
		}, []string{"type"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_total",
			Help: "EVENT envelopes partitioned by event type.",
		}, []string{"event_type"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_completions_total",
			Help: "COMPLETE envelopes partitioned by result.",
		}, []string{"result"}),
		payloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_payload_bytes",
			Help:    "Encoded payload size per envelope type.",
			Buckets: prometheus.ExponentialBuckets(16, 4, 7),
		}, []string{"type"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_envelope_latency_seconds",
			Help:    "Gap between the sender timestamp and host receipt.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		activeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_completion_active_seconds",
			Help:    "Active time reported by COMPLETE envelopes.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.envelopes,
		s.events,
		s.completions,
		s.payloadBytes,
		s.latency,
		s.activeTime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register relay collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []relay.Record) error {
	for _, rec := range batch {
		s.consumeRecord(rec)
	}
	return nil
}

func (s *PrometheusSink) consumeRecord(rec relay.Record) {
	typ := string(rec.Envelope.Type)
	s.envelopes.WithLabelValues(typ).Inc()
	s.payloadBytes.WithLabelValues(typ).Observe(float64(len(rec.Envelope.Payload)))
	if d := rec.Latency(); d > 0 {
		s.latency.Observe(d.Seconds())
	}

	payload, err := rec.Envelope.Decode()
	if err != nil {
		return
	}
	switch p := payload.(type) {
	case envelope.Event:
		s.events.WithLabelValues(p.EventType).Inc()
	case envelope.Complete:
		s.completions.WithLabelValues(completionResult(p)).Inc()
		if p.TotalTimeMs > 0 {
			s.activeTime.Observe(float64(p.TotalTimeMs) / 1000)
		}
	}
}

func completionResult(p envelope.Complete) string {
	switch {
	case p.Completion && p.Success:
		return "passed"
	case p.Completion:
		return "completed"
	default:
		return "incomplete"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
