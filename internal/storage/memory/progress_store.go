package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/content-progress-bridge/internal/store"
)

type progressKey struct {
	learnerID string
	contentID string
}

// ProgressStore provides an in-memory store.ProgressRepository for
// development and tests.
type ProgressStore struct {
	mu          sync.RWMutex
	checkpoints map[progressKey]store.Checkpoint
	completions map[progressKey]store.Completion
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore constructs a ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		checkpoints: make(map[progressKey]store.Checkpoint),
		completions: make(map[progressKey]store.Completion),
	}
}

// SaveCheckpoint keeps cp when it is strictly newer than the stored one.
func (s *ProgressStore) SaveCheckpoint(_ context.Context, cp store.Checkpoint) (bool, error) {
	if err := cp.Validate(); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	key := progressKey{learnerID: cp.LearnerID, contentID: cp.ContentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.checkpoints[key]; ok && !cp.TS.After(existing.TS) {
		return false, nil
	}
	cp.State = append([]byte(nil), cp.State...)
	s.checkpoints[key] = cp
	return true, nil
}

// LatestCheckpoint returns a copy of the stored checkpoint.
func (s *ProgressStore) LatestCheckpoint(_ context.Context, learnerID, contentID string) (store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[progressKey{learnerID: learnerID, contentID: contentID}]
	if !ok {
		return store.Checkpoint{}, store.ErrNotFound
	}
	cp.State = append([]byte(nil), cp.State...)
	return cp, nil
}

// SaveCompletion stores c unless a newer report exists.
func (s *ProgressStore) SaveCompletion(_ context.Context, c store.Completion) error {
	if c.LearnerID == "" || c.ContentID == "" {
		return fmt.Errorf("save completion: learner and content ids are required")
	}
	key := progressKey{learnerID: c.LearnerID, contentID: c.ContentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.completions[key]; ok && existing.TS.After(c.TS) {
		return nil
	}
	c.Detail = append([]byte(nil), c.Detail...)
	s.completions[key] = c
	return nil
}

// LatestCompletion returns the stored completion.
func (s *ProgressStore) LatestCompletion(_ context.Context, learnerID, contentID string) (store.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.completions[progressKey{learnerID: learnerID, contentID: contentID}]
	if !ok {
		return store.Completion{}, store.ErrNotFound
	}
	c.Detail = append([]byte(nil), c.Detail...)
	return c, nil
}
