// Package publisher defines the outbound message contract used to ship relayed
// envelopes to downstream consumers.
package publisher

import "context"

// Message is one outbound message. Attributes carry routing metadata that
// consumers can filter on without decoding Data.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Publisher sends messages to a named topic and returns the broker's id.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) (string, error)
}
