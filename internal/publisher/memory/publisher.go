// Package memory contains in-memory publisher implementations for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/content-progress-bridge/internal/publisher"
)

// Publisher stores published messages for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

var _ publisher.Publisher = (*Publisher)(nil)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Message publisher.Message
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records a copy of the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, msg publisher.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Message: cloneMessage(msg)})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	for i, m := range p.messages {
		out[i] = PublishedMessage{Topic: m.Topic, Message: cloneMessage(m.Message)}
	}
	return out
}

func cloneMessage(msg publisher.Message) publisher.Message {
	return publisher.Message{
		Data:       append([]byte(nil), msg.Data...),
		Attributes: maps.Clone(msg.Attributes),
	}
}
