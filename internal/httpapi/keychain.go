package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noetl/noetl-sub007/internal/keychain"
)

// credentialCatalogID is the global namespace standalone-registered
// credentials live in — see keychain.NewStoreCredentialSource, the
// keychain.CredentialSource implementation this package's handlers and
// internal/serverctx's Resolver wiring both share.
const credentialCatalogID = int64(0)

// keychainStoreRequest is the body of POST /keychain/{catalog_id}/{name}.
type keychainStoreRequest struct {
	CredentialType string                 `json:"credential_type" validate:"required"`
	ScopeType      string                 `json:"scope_type"`
	Data           map[string]interface{} `json:"data" validate:"required"`
	TTLSeconds     int                    `json:"ttl_seconds"`
	AutoRenew      bool                   `json:"auto_renew"`
}

// handleKeychainStore implements `POST /keychain/{catalog_id}/{name}`: seal
// and persist a credential directly, bypassing the kind-dispatch Resolver
// runs at execution start. This is the path credentials referenced later by
// a playbook's `keychain: [{kind: credential, ref: ...}]` entries come from.
func (s *Server) handleKeychainStore(w http.ResponseWriter, r *http.Request) {
	catalogID, err := parseInt64Param(r, "catalog_id")
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid catalog_id")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, s.logger, http.StatusBadRequest, "missing name")
		return
	}

	var req keychainStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScopeType == "" {
		req.ScopeType = keychain.ScopeCatalog
	}

	ciphertext, encryptedKey, err := s.cipher.Seal(r.Context(), req.Data)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	expiresAt := time.Now().Add(time.Hour)
	if req.TTLSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
	}

	entry := &keychain.Entry{
		CatalogID:        catalogID,
		Name:             name,
		CredentialType:   req.CredentialType,
		ScopeType:        req.ScopeType,
		EncryptedData:    ciphertext,
		EncryptedDataKey: encryptedKey,
		ExpiresAt:        expiresAt,
		AutoRenew:        req.AutoRenew,
	}
	if err := s.keychainStore.Put(r.Context(), entry); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"keychain_id": entry.KeychainID,
		"name":        entry.Name,
		"expires_at":  entry.ExpiresAt,
	})
}

// handleCredentialResolve implements `GET /credentials/{name}?include_data`:
// resolve a credential registered globally via handleKeychainStore. Data is
// only decrypted and returned when include_data is set, so a caller that
// merely wants to check existence/expiry never triggers a KMS round trip.
func (s *Server) handleCredentialResolve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, s.logger, http.StatusBadRequest, "missing name")
		return
	}

	entry, err := s.keychainStore.Get(r.Context(), credentialCatalogID, nil, name)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	resp := map[string]interface{}{
		"name":            entry.Name,
		"credential_type": entry.CredentialType,
		"scope_type":      entry.ScopeType,
		"expires_at":      entry.ExpiresAt,
		"auto_renew":      entry.AutoRenew,
	}

	if includeData(r) {
		data, err := s.cipher.Open(r.Context(), entry.EncryptedData, entry.EncryptedDataKey)
		if err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		resp["data"] = data
	}

	writeJSON(w, s.logger, http.StatusOK, resp)
}

func includeData(r *http.Request) bool {
	q := r.URL.Query()
	if !q.Has("include_data") {
		return false
	}
	v := q.Get("include_data")
	return v == "" || v == "1" || v == "true"
}

func parseInt64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	var id int64
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
		return 0, err
	}
	return id, nil
}
