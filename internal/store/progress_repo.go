package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// Kind names the envelope a checkpoint came from.
type Kind string

// Checkpoint kinds.
const (
	KindState   Kind = "state"
	KindSuspend Kind = "suspend"
)

// Checkpoint is the latest resumable snapshot for one learner and content.
type Checkpoint struct {
	// LearnerID identifies who the checkpoint belongs to.
	LearnerID string
	// ContentID and ContentVersion come from the envelope meta.
	ContentID      string
	ContentVersion string
	// SessionID is the host session that received the checkpoint.
	SessionID string
	// Kind records whether a STATE or SUSPEND produced it.
	Kind Kind
	// Location is set for SUSPEND checkpoints.
	Location string
	// State is the opaque checkpoint body.
	State json.RawMessage
	// TS is the sender's envelope timestamp.
	TS time.Time
}

// Validate reports missing identity fields.
func (c Checkpoint) Validate() error {
	if c.LearnerID == "" {
		return errors.New("learner id is required")
	}
	if c.ContentID == "" {
		return errors.New("content id is required")
	}
	if c.Kind != KindState && c.Kind != KindSuspend {
		return fmt.Errorf("invalid checkpoint kind %q", c.Kind)
	}
	return nil
}

// Completion records a COMPLETE report.
type Completion struct {
	LearnerID      string
	ContentID      string
	ContentVersion string
	SessionID      string
	Completion     bool
	Success        bool
	ScoreRaw       float64
	ScoreMax       float64
	TotalTimeMs    int64
	Detail         json.RawMessage
	TS             time.Time
}

// ProgressRepository persists checkpoints and completion records.
type ProgressRepository interface {
	// SaveCheckpoint replaces the stored checkpoint for (learner, content)
	// only when cp is strictly newer, regardless of kind. It reports whether
	// cp was kept.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) (bool, error)
	// LatestCheckpoint loads the stored checkpoint or returns ErrNotFound.
	LatestCheckpoint(ctx context.Context, learnerID, contentID string) (Checkpoint, error)
	// SaveCompletion stores c unless a newer report for (learner, content) is
	// already stored.
	SaveCompletion(ctx context.Context, c Completion) error
	// LatestCompletion loads the stored completion or returns ErrNotFound.
	LatestCompletion(ctx context.Context, learnerID, contentID string) (Completion, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
