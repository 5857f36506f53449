// Package catalogstore is the append-only, versioned store of registered
// playbook (and tool/model) YAML documents, keyed by (path, version).
package catalogstore

import (
	"encoding/json"
	"time"
)

// Kind distinguishes the three document shapes the catalog accepts. Only
// Playbook is structurally validated (start step, acyclic transitions);
// Tool and Model are stored as opaque content + payload.
type Kind string

const (
	KindPlaybook Kind = "Playbook"
	KindTool     Kind = "Tool"
	KindModel    Kind = "Model"
)

// Entry is one immutable row of the catalog.
type Entry struct {
	CatalogID int64           `db:"catalog_id" json:"catalog_id"`
	Path      string          `db:"path" json:"path"`
	Version   int             `db:"version" json:"version"`
	Kind      string          `db:"kind" json:"kind"`
	Content   string          `db:"content" json:"content"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Meta      json.RawMessage `db:"meta" json:"meta"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
