package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/execution"
)

// executeRequest is the body of POST /execute.
type executeRequest struct {
	Path      string                 `json:"path"`
	Version   string                 `json:"version"`
	CatalogID int64                  `json:"catalog_id"`
	Payload   map[string]interface{} `json:"payload"`
	Requestor map[string]interface{} `json:"requestor_info"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CatalogID == 0 && req.Path == "" {
		writeError(w, s.logger, http.StatusBadRequest, "catalog_id or path is required")
		return
	}

	executionID, err := s.initializer.Execute(r.Context(), execution.Request{
		Path:      req.Path,
		Version:   req.Version,
		CatalogID: req.CatalogID,
		Payload:   req.Payload,
		Requestor: req.Requestor,
	})
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusAccepted, map[string]interface{}{"execution_id": executionID})
}

// emitEventRequest is the wire shape workers POST to /events, matching the
// spec's documented event shape verbatim.
type emitEventRequest struct {
	ExecutionID     int64                  `json:"execution_id" validate:"required"`
	CatalogID       int64                  `json:"catalog_id" validate:"required"`
	EventType       string                 `json:"event_type" validate:"required"`
	NodeID          string                 `json:"node_id"`
	NodeName        string                 `json:"node_name"`
	NodeType        string                 `json:"node_type"`
	Status          string                 `json:"status"`
	Result          map[string]interface{} `json:"result"`
	Error           string                 `json:"error"`
	Context         map[string]interface{} `json:"context"`
	ParentEventID   *int64                 `json:"parent_event_id"`
	CurrentIndex    *int                   `json:"current_index"`
	LoopID          string                 `json:"loop_id"`
	LoopName        string                 `json:"loop_name"`
}

// handleEmitEvent implements `POST /events`: append the worker-reported
// event, then re-run the broker for its execution. Workers post
// action_completed/action_error this way, separately from the
// complete/fail queue calls that mark the queue row itself done — Advance
// here is what actually drives the next transition; Complete's own
// Advance call (../internal/execution/completion.go) is a second,
// idempotent trigger for the same evaluation.
func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}

	resultJSON, err := marshalOrNilMap(req.Result)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid result: "+err.Error())
		return
	}
	contextJSON, err := marshalOrNilMap(req.Context)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid context: "+err.Error())
		return
	}

	status := req.Status
	if status == "" {
		status = eventlog.StatusCompleted
	}

	eventID, err := s.events.Emit(r.Context(), eventlog.Event{
		ExecutionID:   req.ExecutionID,
		CatalogID:     req.CatalogID,
		EventType:     req.EventType,
		NodeID:        req.NodeID,
		NodeName:      req.NodeName,
		NodeType:      req.NodeType,
		Status:        status,
		Result:        resultJSON,
		Error:         req.Error,
		Context:       contextJSON,
		ParentEventID: req.ParentEventID,
		CurrentIndex:  req.CurrentIndex,
		LoopID:        req.LoopID,
		LoopName:      req.LoopName,
	})
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	if err := s.advancer.Advance(r.Context(), req.ExecutionID, req.CatalogID); err != nil {
		s.logger.Error("broker re-evaluation failed after event emit",
			"error", err, "execution_id", req.ExecutionID, "event_type", req.EventType)
	}

	writeJSON(w, s.logger, http.StatusCreated, map[string]interface{}{"event_id": eventID})
}

func (s *Server) handleEventsByExecution(w http.ResponseWriter, r *http.Request) {
	executionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid execution id")
		return
	}

	filters := eventlog.Filters{
		EventType: r.URL.Query().Get("event_type"),
		NodeName:  r.URL.Query().Get("node_name"),
	}

	events, err := s.events.GetByExecution(r.Context(), executionID, filters)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	summaries, err := s.events.ListExecutions(r.Context(), limit)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"executions": summaries})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid execution id")
		return
	}

	summary, err := s.events.GetExecutionSummary(r.Context(), executionID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, summary)
}

func marshalOrNilMap(v map[string]interface{}) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
