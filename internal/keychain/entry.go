// Package keychain resolves a playbook's `keychain:` section at execution
// start into short-lived, kind-specific credentials (static maps, bearer
// tokens, OAuth2 client-credentials tokens, GCP Secret Manager values,
// existing credential references), persists them envelope-encrypted, and
// caches them across replicas so every worker resolving the same execution's
// task args sees the same values without re-running the kind-specific flow.
package keychain

import (
	"encoding/json"
	"time"
)

// Kind is the keychain entry's resolution strategy, matching the playbook
// `keychain:` block's `kind:` field.
type Kind string

const (
	KindStatic                 Kind = "static"
	KindBearer                 Kind = "bearer"
	KindOAuth2                 Kind = "oauth2"
	KindSecretManager          Kind = "secret_manager"
	KindCredentialRef          Kind = "credential"
	KindGoogleServiceAccount   Kind = "google_service_account"
)

// Scope controls how long a resolved entry lives and whether it's shared
// across executions of the same catalog entry or private to one execution.
const (
	ScopeGlobal  = "global"
	ScopeCatalog = "catalog"
	ScopeShared  = "shared"
	ScopeLocal   = "local"
)

const (
	defaultSharedTTL = 24 * time.Hour
	defaultLocalTTL  = time.Hour
)

// Entry is a resolved, persisted keychain row. Data is the envelope-
// encrypted, AES-256-GCM-sealed JSON of the kind-specific token/credential
// payload; EncryptedDataKey is that AES key, itself sealed by KMS.
type Entry struct {
	KeychainID       int64          `db:"keychain_id" json:"keychain_id"`
	CatalogID        int64          `db:"catalog_id" json:"catalog_id"`
	ExecutionID      *int64         `db:"execution_id" json:"execution_id,omitempty"`
	Name             string         `db:"name" json:"name"`
	CredentialType   string         `db:"credential_type" json:"credential_type"`
	ScopeType        string         `db:"scope_type" json:"scope_type"`
	EncryptedData    []byte         `db:"encrypted_data" json:"-"`
	EncryptedDataKey []byte         `db:"encrypted_data_key" json:"-"`
	ExpiresAt        time.Time      `db:"expires_at" json:"expires_at"`
	AutoRenew        bool           `db:"auto_renew" json:"auto_renew"`
	RenewConfig      json.RawMessage `db:"renew_config" json:"renew_config,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

func defaultTTL(scope string) time.Duration {
	switch scope {
	case ScopeLocal:
		return defaultLocalTTL
	default:
		return defaultSharedTTL
	}
}
