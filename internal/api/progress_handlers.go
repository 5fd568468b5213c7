package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/store"
)

const progressTimeout = 3 * time.Second

// getCheckpoint handles GET /v1/learners/{learner_id}/content/{content_id}/checkpoint.
// It returns {"checkpoint": {...}} on success, 404 when nothing is stored, or
// 500 if the repository call fails.
func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	learner, content, ok := progressKey(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), progressTimeout)
	defer cancel()

	cp, err := s.host.Checkpoint(ctx, learner, content)
	if err != nil {
		s.writeRepoError(w, "checkpoint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": toCheckpointDTO(cp)})
}

// getCompletion handles GET /v1/learners/{learner_id}/content/{content_id}/completion.
func (s *Server) getCompletion(w http.ResponseWriter, r *http.Request) {
	learner, content, ok := progressKey(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), progressTimeout)
	defer cancel()

	c, err := s.host.Completion(ctx, learner, content)
	if err != nil {
		s.writeRepoError(w, "completion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completion": toCompletionDTO(c)})
}

func progressKey(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	learner := chi.URLParam(r, "learner_id")
	content := chi.URLParam(r, "content_id")
	if learner == "" || content == "" {
		writeError(w, http.StatusBadRequest, "learner_id and content_id are required")
		return "", "", false
	}
	return learner, content, true
}

func (s *Server) writeRepoError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error("load "+what+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func toCheckpointDTO(cp store.Checkpoint) checkpointDTO {
	return checkpointDTO{
		LearnerID:      cp.LearnerID,
		ContentID:      cp.ContentID,
		ContentVersion: cp.ContentVersion,
		SessionID:      cp.SessionID,
		Kind:           string(cp.Kind),
		Location:       cp.Location,
		State:          cp.State,
		TS:             cp.TS.UTC(),
	}
}

func toCompletionDTO(c store.Completion) completionDTO {
	return completionDTO{
		LearnerID:      c.LearnerID,
		ContentID:      c.ContentID,
		ContentVersion: c.ContentVersion,
		SessionID:      c.SessionID,
		Completion:     c.Completion,
		Success:        c.Success,
		ScoreRaw:       c.ScoreRaw,
		ScoreMax:       c.ScoreMax,
		TotalTimeMs:    c.TotalTimeMs,
		Detail:         c.Detail,
		TS:             c.TS.UTC(),
	}
}

type checkpointDTO struct {
	LearnerID      string          `json:"learner_id"`
	ContentID      string          `json:"content_id"`
	ContentVersion string          `json:"content_version,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Kind           string          `json:"kind"`
	Location       string          `json:"location,omitempty"`
	State          json.RawMessage `json:"state,omitempty"`
	TS             time.Time       `json:"ts"`
}

type completionDTO struct {
	LearnerID      string          `json:"learner_id"`
	ContentID      string          `json:"content_id"`
	ContentVersion string          `json:"content_version,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Completion     bool            `json:"completion"`
	Success        bool            `json:"success"`
	ScoreRaw       float64         `json:"score_raw"`
	ScoreMax       float64         `json:"score_max"`
	TotalTimeMs    int64           `json:"total_time_ms"`
	Detail         json.RawMessage `json:"detail,omitempty"`
	TS             time.Time       `json:"ts"`
}
