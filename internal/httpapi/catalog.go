package httpapi

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/noetl/noetl-sub007/internal/catalogstore"
)

// catalogRegisterRequest is the body of POST /catalog/register. Content is
// either raw YAML or base64-encoded YAML, matching the spec's "body is YAML
// or base64 YAML" note — callers posting from a shell pipe raw text in;
// callers posting a binary-safe payload from another service base64-encode.
type catalogRegisterRequest struct {
	Content string `json:"content" validate:"required"`
	Kind    string `json:"kind"`
}

func (s *Server) handleCatalogRegister(w http.ResponseWriter, r *http.Request) {
	var req catalogRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}

	content := decodeCatalogContent(req.Content)

	kind := catalogstore.KindPlaybook
	if req.Kind != "" {
		kind = catalogstore.Kind(req.Kind)
	}

	entry, err := s.catalog.Register(r.Context(), content, kind)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusCreated, entry)
}

// decodeCatalogContent returns raw as-is unless it decodes cleanly as
// base64 AND doesn't already look like YAML (a leading "apiVersion:" or
// "---" line is decisive enough to skip the attempt).
func decodeCatalogContent(raw string) []byte {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "apiVersion") || strings.HasPrefix(trimmed, "---") || strings.Contains(trimmed, "\n") {
		return []byte(raw)
	}
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded
	}
	return []byte(raw)
}

type catalogListRequest struct {
	ResourceType string `json:"resource_type"`
}

func (s *Server) handleCatalogList(w http.ResponseWriter, r *http.Request) {
	var req catalogListRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	entries, err := s.catalog.List(r.Context(), catalogstore.Kind(req.ResourceType))
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{"entries": entries})
}

type catalogResourceRequest struct {
	CatalogID int64  `json:"catalog_id"`
	Path      string `json:"path"`
	Version   string `json:"version"`
}

func (s *Server) handleCatalogResource(w http.ResponseWriter, r *http.Request) {
	var req catalogResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var entry *catalogstore.Entry
	var err error
	if req.CatalogID != 0 {
		entry, err = s.catalog.FetchByID(r.Context(), req.CatalogID)
	} else if req.Path != "" {
		entry, err = s.catalog.FetchByPath(r.Context(), req.Path, req.Version)
	} else {
		writeError(w, s.logger, http.StatusBadRequest, "catalog_id or path is required")
		return
	}
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, entry)
}
