// Package transport declares the cross-context message primitive the bridge
// is built on. Implementations are one-way, best-effort and unordered: a send
// either reaches a live receiver or is lost, and nothing is acknowledged,
// queued or retried.
package transport

import (
	"context"
	"errors"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
)

// ErrUnavailable reports that no peer is reachable. Callers treat it like any
// other lost message.
var ErrUnavailable = errors.New("transport: peer unavailable")

// Handler receives one raw frame. Frames may belong to other protocols
// sharing the same primitive.
type Handler func(data []byte)

// Transport is an at-most-once, unordered, one-way channel.
type Transport interface {
	// Send posts env to the peer. It never waits for delivery.
	Send(ctx context.Context, env envelope.Envelope) error
	// OnReceive installs a handler for inbound frames.
	OnReceive(h Handler)
}
