// Package sinks implements concrete relay consumers: structured logging,
// Prometheus counters and a publisher that ships envelopes downstream. Each
// sink satisfies relay.Sink and is safe for repeated Consume/Close cycles.
package sinks
