package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/noetl/noetl-sub007/internal/catalogstore"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/execution"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
	"github.com/noetl/noetl-sub007/internal/keychain"
	"github.com/noetl/noetl-sub007/internal/playbook"
)

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, map[string]string{"error": message})
}

// writeDomainError maps a collaborator's sentinel error to the HTTP status
// the error taxonomy assigns it: NotFound -> 404, InvalidPlaybook -> 422,
// jobqueue.ErrNoWork -> 204 with no body, everything else -> 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, catalogstore.ErrNotFound), errors.Is(err, eventlog.ErrNotFound),
		errors.Is(err, jobqueue.ErrNotFound), errors.Is(err, keychain.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, err.Error())
	case errors.Is(err, catalogstore.ErrInvalidPlaybook), errors.Is(err, catalogstore.ErrMissingPath),
		errors.Is(err, playbook.ErrInvalidPlaybook), errors.Is(err, playbook.ErrMissingPath),
		errors.Is(err, playbook.ErrMissingStart), errors.Is(err, playbook.ErrCycle),
		errors.Is(err, execution.ErrNoStartStep), errors.Is(err, execution.ErrNotAPlaybook):
		writeError(w, logger, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, jobqueue.ErrNoWork):
		w.WriteHeader(http.StatusNoContent)
	default:
		logger.Error("request failed", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
