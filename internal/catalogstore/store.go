package catalogstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/noetl/noetl-sub007/internal/idgen"
	"github.com/noetl/noetl-sub007/internal/playbook"
)

// Store provides the catalog's register/fetch/list operations over a
// Postgres-backed table. Rows are never updated; re-registering a path
// inserts a new row with an incremented version.
type Store struct {
	db   *sqlx.DB
	ids  *idgen.Generator
}

// NewStore wires a Store to a database handle and ID generator.
func NewStore(db *sqlx.DB, ids *idgen.Generator) *Store {
	return &Store{db: db, ids: ids}
}

type genericMetadata struct {
	Metadata struct {
		Path string `yaml:"path"`
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Meta map[string]interface{} `yaml:"meta"`
}

// Register parses content, derives its path, computes the next version for
// that path, and inserts a new immutable row.
func (s *Store) Register(ctx context.Context, content []byte, kind Kind) (*Entry, error) {
	path, payload, err := derivePathAndPayload(content, kind)
	if err != nil {
		return nil, err
	}

	latest, err := s.latestVersion(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: resolve latest version: %w", err)
	}

	catalogID := s.ids.Next()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: marshal payload: %w", err)
	}

	query := `
		INSERT INTO catalog_entries (catalog_id, path, version, kind, content, payload, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, '{}', now())
		RETURNING *
	`

	var entry Entry
	err = s.db.QueryRowxContext(ctx, query, catalogID, path, latest+1, string(kind), string(content), payloadJSON).StructScan(&entry)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: insert entry: %w", err)
	}

	return &entry, nil
}

func derivePathAndPayload(content []byte, kind Kind) (string, interface{}, error) {
	if kind == KindPlaybook {
		pb, err := playbook.Parse(content)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidPlaybook, err)
		}
		synthesizeEndStep(pb)
		return pb.Metadata.Path, pb, nil
	}

	var doc genericMetadata
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidPlaybook, err)
	}
	path := doc.Metadata.Path
	if path == "" {
		path = doc.Metadata.Name
	}
	if path == "" {
		return "", nil, ErrMissingPath
	}
	return path, doc, nil
}

// synthesizeEndStep appends an implicit terminal "end" step that aggregates
// results when a registered playbook's workflow has none, so the broker
// always has a finalization target.
func synthesizeEndStep(pb *playbook.Playbook) {
	for _, step := range pb.Workflow {
		if step.Name == "end" {
			return
		}
	}
	pb.Workflow = append(pb.Workflow, playbook.Step{
		Name:   "end",
		Fields: map[string]interface{}{},
	})
}

func (s *Store) latestVersion(ctx context.Context, path string) (int, error) {
	var version sql.NullInt64
	err := s.db.GetContext(ctx, &version, `SELECT MAX(version) FROM catalog_entries WHERE path = $1`, path)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// FetchByID returns the entry with the given catalog ID.
func (s *Store) FetchByID(ctx context.Context, catalogID int64) (*Entry, error) {
	var entry Entry
	err := s.db.GetContext(ctx, &entry, `SELECT * FROM catalog_entries WHERE catalog_id = $1`, catalogID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// FetchByPath returns the entry for a path at a specific version, or the
// latest version when version == "latest".
func (s *Store) FetchByPath(ctx context.Context, path, version string) (*Entry, error) {
	var entry Entry
	var err error
	if version == "" || version == "latest" {
		err = s.db.GetContext(ctx, &entry, `
			SELECT * FROM catalog_entries
			WHERE path = $1
			ORDER BY version DESC
			LIMIT 1
		`, path)
	} else {
		err = s.db.GetContext(ctx, &entry, `
			SELECT * FROM catalog_entries WHERE path = $1 AND version = $2
		`, path, version)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// List returns entries ordered by creation time, optionally filtered by
// kind.
func (s *Store) List(ctx context.Context, kind Kind) ([]*Entry, error) {
	var entries []*Entry
	var err error
	if kind == "" {
		err = s.db.SelectContext(ctx, &entries, `SELECT * FROM catalog_entries ORDER BY created_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &entries, `SELECT * FROM catalog_entries WHERE kind = $1 ORDER BY created_at DESC`, string(kind))
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}
