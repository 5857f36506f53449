package keychain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noetl/noetl-sub007/internal/idgen"
)

// Store persists resolved keychain entries. Put is the only write path: it
// is used both when an entry is resolved and by internal/background's
// auto-renew sweep, and replaces an existing row's encrypted payload and
// expires_at.
type Store struct {
	db  *sqlx.DB
	ids *idgen.Generator
}

func NewStore(db *sqlx.DB, ids *idgen.Generator) *Store {
	return &Store{db: db, ids: ids}
}

// Put inserts a resolved entry, or updates it in place if one already exists
// for (catalog_id, execution_id, name) — resolution is idempotent per
// execution, so a retried initializer pass overwrites rather than duplicates.
func (s *Store) Put(ctx context.Context, e *Entry) error {
	if e.KeychainID == 0 {
		e.KeychainID = s.ids.Next()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keychain_entries (
			keychain_id, catalog_id, execution_id, name, credential_type, scope_type,
			encrypted_data, encrypted_data_key, expires_at, auto_renew, renew_config, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now()
		)
		ON CONFLICT (catalog_id, execution_id, name) DO UPDATE SET
			credential_type = EXCLUDED.credential_type,
			encrypted_data = EXCLUDED.encrypted_data,
			encrypted_data_key = EXCLUDED.encrypted_data_key,
			expires_at = EXCLUDED.expires_at,
			auto_renew = EXCLUDED.auto_renew,
			renew_config = EXCLUDED.renew_config
	`, e.KeychainID, e.CatalogID, e.ExecutionID, e.Name, e.CredentialType, e.ScopeType,
		e.EncryptedData, e.EncryptedDataKey, e.ExpiresAt, e.AutoRenew, e.RenewConfig)
	if err != nil {
		return fmt.Errorf("keychain: put entry: %w", err)
	}
	return nil
}

// Get fetches one entry by (catalog_id, execution_id, name). executionID is
// nil for catalog/global/shared-scoped entries.
func (s *Store) Get(ctx context.Context, catalogID int64, executionID *int64, name string) (*Entry, error) {
	var entry Entry
	var err error
	if executionID != nil {
		err = s.db.GetContext(ctx, &entry, `
			SELECT * FROM keychain_entries WHERE catalog_id = $1 AND execution_id = $2 AND name = $3
		`, catalogID, *executionID, name)
	} else {
		err = s.db.GetContext(ctx, &entry, `
			SELECT * FROM keychain_entries WHERE catalog_id = $1 AND execution_id IS NULL AND name = $2
		`, catalogID, name)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keychain: get entry: %w", err)
	}
	return &entry, nil
}

// DueForRenewal lists auto_renew entries expiring within lookahead of now,
// for internal/background's renewal sweep. lookahead is
// KeychainConfig.AutoRenewMargin, the number of seconds before expiry a
// renewal should trigger.
func (s *Store) DueForRenewal(ctx context.Context, lookahead time.Duration) ([]Entry, error) {
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM keychain_entries
		WHERE auto_renew = true AND expires_at < $1
	`, time.Now().Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("keychain: list due for renewal: %w", err)
	}
	return entries, nil
}
