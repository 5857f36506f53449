package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

type queueLeaseRequest struct {
	WorkerID     string `json:"worker_id" validate:"required"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// handleQueueLease implements `POST /queue/lease`: a worker's long-poll
// claim of the next available job. ErrNoWork is not an error condition —
// it means "nothing to do right now" — so it's reported as 204, not 4xx/5xx.
func (s *Server) handleQueueLease(w http.ResponseWriter, r *http.Request) {
	var req queueLeaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.queue.Lease(r.Context(), req.WorkerID, req.LeaseSeconds)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNoWork) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"status": "ok", "job": entry})
}

type queueHeartbeatRequest struct {
	ExtendSeconds int `json:"extend_seconds"`
}

func (s *Server) handleQueueHeartbeat(w http.ResponseWriter, r *http.Request) {
	queueID, err := parseQueueID(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid queue id")
		return
	}

	var req queueHeartbeatRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if err := s.queue.Heartbeat(r.Context(), queueID, req.ExtendSeconds); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// handleQueueComplete implements `POST /queue/{id}/complete`: mark the
// entry done and trigger the broker re-evaluation that dispatches whatever
// comes next.
func (s *Server) handleQueueComplete(w http.ResponseWriter, r *http.Request) {
	queueID, err := parseQueueID(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid queue id")
		return
	}

	if err := s.completer.Complete(r.Context(), queueID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"status": "ok"})
}

type queueFailRequest struct {
	Retry             bool   `json:"retry"`
	RetryDelaySeconds int    `json:"retry_delay_seconds"`
	Error             string `json:"error" validate:"required"`
}

func (s *Server) handleQueueFail(w http.ResponseWriter, r *http.Request) {
	queueID, err := parseQueueID(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid queue id")
		return
	}

	var req queueFailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.completer.Fail(r.Context(), queueID, req.Retry, req.RetryDelaySeconds, req.Error); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleQueueSize(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(jobqueue.StatusQueued)
	}

	count, err := s.queue.Size(r.Context(), status)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"status": status, "count": count})
}

func parseQueueID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
