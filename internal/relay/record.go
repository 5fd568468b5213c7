package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
)

// Record is one envelope as seen by the host.
type Record struct {
	// LearnerID identifies whose frame sent the envelope.
	LearnerID string
	// SessionID is the host session the frame was bound to, if any.
	SessionID string
	// Envelope is the decoded frame.
	Envelope envelope.Envelope
	// ReceivedAt is the host clock at receipt.
	ReceivedAt time.Time
}

// Validate performs coarse validation on records.
func (r Record) Validate() error {
	if r.LearnerID == "" {
		return errors.New("learner id is required")
	}
	if r.ReceivedAt.IsZero() {
		return errors.New("received timestamp is required")
	}
	if r.Envelope.Channel != envelope.Channel {
		return fmt.Errorf("unexpected channel %q", r.Envelope.Channel)
	}
	if !r.Envelope.Type.Known() {
		return fmt.Errorf("unknown envelope type %q", r.Envelope.Type)
	}
	return nil
}

// ContentID returns the content id carried in the envelope meta.
func (r Record) ContentID() string {
	return r.Envelope.Meta.ContentID()
}

// Latency is the gap between the sender's advisory timestamp and receipt.
// It is zero when the sender did not stamp the envelope.
func (r Record) Latency() time.Duration {
	if r.Envelope.TS <= 0 {
		return 0
	}
	d := r.ReceivedAt.Sub(r.Envelope.Time())
	if d < 0 {
		return 0
	}
	return d
}
