package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/noetl/noetl-sub007/internal/eventlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control plane and its dashboards are both operator-run services
	// behind the same ingress, not a public browser surface, so the origin
	// check is intentionally permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamPollInterval = 500 * time.Millisecond

// handleExecutionStream implements a dashboard-facing event stream for one
// execution: poll the event log for anything newer than the last event_id
// seen and push it over the socket. This isn't one of spec.md's
// request/response routes — it exists because "Dashboards should reconstruct
// the tree" only works live if something pushes new events as they land,
// and event_id's Snowflake monotonicity makes "newer than" a single
// comparison rather than a cursor table.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	executionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid execution id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var lastEventID int64

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := s.events.GetByExecution(ctx, executionID, eventlog.Filters{})
			if err != nil {
				s.logger.Error("stream: load events", "error", err, "execution_id", executionID)
				return
			}

			for _, e := range events {
				if e.EventID <= lastEventID {
					continue
				}
				if err := conn.WriteJSON(e); err != nil {
					return
				}
				lastEventID = e.EventID
				if e.EventType == "execution_complete" || e.EventType == "execution_failed" {
					return
				}
			}
		}
	}
}
