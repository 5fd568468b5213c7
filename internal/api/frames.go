package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/host"
	"github.com/JakeFAU/content-progress-bridge/internal/transport/websocket"
)

const maxBeaconBytes = 1 << 20

// learnerID reads the learner from the query string or the X-Learner-ID
// header.
func learnerID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("learner_id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get("X-Learner-ID"))
}

// frames handles GET /v1/frames?learner_id=. The connection becomes the
// frame's transport for as long as the content stays open.
func (s *Server) frames(w http.ResponseWriter, r *http.Request) {
	learner := learnerID(r)
	if learner == "" {
		writeError(w, http.StatusBadRequest, "learner_id is required")
		return
	}
	conn, err := websocket.Upgrade(w, r, s.ws)
	if err != nil {
		// The upgrader has already answered the request.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sess, err := s.host.Attach(learner, conn)
	if err != nil {
		s.logger.Warn("attach frame failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	defer sess.Detach()

	if err := conn.Run(r.Context()); err != nil {
		s.logger.Debug("frame connection ended",
			zap.String("learner_id", learner),
			zap.String("session_id", sess.ID()),
			zap.Error(err),
		)
	}
}

// beacon handles POST /v1/beacon?learner_id=. The body is one envelope. It
// returns 202 once the envelope is handled, 400 for frames the host cannot
// accept, or 500 when storage fails.
func (s *Server) beacon(w http.ResponseWriter, r *http.Request) {
	learner := learnerID(r)
	if learner == "" {
		writeError(w, http.StatusBadRequest, "learner_id is required")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBeaconBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "beacon too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read beacon body")
		return
	}
	if err := s.host.Deliver(r.Context(), learner, body); err != nil {
		if isClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("beacon delivery failed", zap.String("learner_id", learner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record beacon")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func isClientError(err error) bool {
	return errors.Is(err, envelope.ErrMalformed) ||
		errors.Is(err, envelope.ErrUnknownType) ||
		errors.Is(err, host.ErrContentRequired) ||
		errors.Is(err, host.ErrLearnerRequired)
}
