// Package memory provides an in-process transport pair for tests and for
// embedding content and host in one process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/transport"
)

// Endpoint is one side of a Pipe. Sends are delivered synchronously to the
// peer's handlers; with no handler installed the frame is dropped.
type Endpoint struct {
	mu       sync.RWMutex
	peer     *Endpoint
	handlers []transport.Handler
	sent     []envelope.Envelope
	closed   bool
}

// Pipe returns two connected endpoints.
func Pipe() (*Endpoint, *Endpoint) {
	a := &Endpoint{}
	b := &Endpoint{}
	a.peer = b
	b.peer = a
	return a, b
}

// New returns a detached endpoint: every send is recorded and dropped.
func New() *Endpoint {
	return &Endpoint{}
}

// Send records env and hands the encoded frame to the peer.
func (e *Endpoint) Send(_ context.Context, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	e.mu.Lock()
	e.sent = append(e.sent, env)
	peer := e.peer
	closed := e.closed
	e.mu.Unlock()
	if closed || peer == nil {
		return transport.ErrUnavailable
	}
	peer.Inject(data)
	return nil
}

// OnReceive installs h for frames arriving at this endpoint.
func (e *Endpoint) OnReceive(h transport.Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Inject delivers a raw frame as if it came from the peer. Tests use it to
// simulate foreign or malformed traffic.
func (e *Endpoint) Inject(data []byte) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	handlers := append([]transport.Handler(nil), e.handlers...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(append([]byte(nil), data...))
	}
}

// Sent returns a copy of every envelope this endpoint has sent.
func (e *Endpoint) Sent() []envelope.Envelope {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]envelope.Envelope, len(e.sent))
	copy(out, e.sent)
	return out
}

// SentOfType filters Sent by envelope type.
func (e *Endpoint) SentOfType(t envelope.Type) []envelope.Envelope {
	var out []envelope.Envelope
	for _, env := range e.Sent() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// Reset forgets recorded sends.
func (e *Endpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = nil
}

// Close detaches the endpoint; later sends report transport.ErrUnavailable
// and inbound frames are dropped.
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}
