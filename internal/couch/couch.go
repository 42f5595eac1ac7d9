// Package couch is the narrow interface to the external document store.
//
// The remote store is a Cloudant/CouchDB-flavored multi-database service:
// every document carries an opaque revision token that must be supplied on
// update, and a stale revision fails the write. Replication, conflict
// resolution and search indexing all live on the store's side; this
// package only exposes what the rest of the system needs.
package couch

import (
	"context"
	"errors"
)

// Doc is a schemaless document. The store keeps three kinds of documents
// in the ticket database: tokens (time-boxed, no type), users
// (type="user") and tickets (presence of a "question" field).
type Doc = map[string]any

// Named views available through Query. The remote store backs these with
// design documents; the in-process store evaluates them directly.
const (
	ViewUnassigned = "unassigned"  // key: question.creation_date
	ViewByOwner    = "by-owner"    // key: owner
	ViewUsers      = "users"       // key: user_name, docs with type="user"
	ViewCustomTags = "custom-tags" // value: all distinct custom_tags
)

// Sentinel errors. Transport failures are wrapped with ErrTransport so
// callers can test with errors.Is without inspecting HTTP details.
var (
	ErrNotFound  = errors.New("couch: not found")
	ErrConflict  = errors.New("couch: document update conflict")
	ErrTransport = errors.New("couch: store unreachable")
)

// Row is one result row from a view query.
type Row struct {
	ID    string
	Key   any
	Value any
	Doc   Doc
}

// QueryOptions tune a view query.
type QueryOptions struct {
	Key         any
	Descending  bool
	IncludeDocs bool
}

// Info is database-level metadata.
type Info struct {
	DocCount int `json:"doc_count"`
}

// Security is the per-database permissions document, mapping credential
// key to capability set. The member is named "cloudant" on the wire.
type Security struct {
	Rev      string              `json:"_rev,omitempty"`
	Cloudant map[string][]string `json:"cloudant"`
}

// Capabilities a generated credential can hold.
const (
	CapRead      = "_reader"
	CapWrite     = "_writer"
	CapReplicate = "_replicator"
)

// Credentials is a generated key/secret pair. The secret is only ever
// returned once, at generation time.
type Credentials struct {
	Key    string `json:"key"`
	Secret string `json:"password"`
}

// Change is one entry from a database's change feed.
type Change struct {
	ID      string
	Seq     uint64
	Deleted bool
	Doc     Doc
}

// Store is the collaborator interface. All writes use optimistic
// concurrency: a stale _rev yields ErrConflict.
type Store interface {
	// URL returns the externally visible base URL of the store, handed to
	// clients so they can replicate directly.
	URL() string

	// Get fetches a document by id. ErrNotFound if absent.
	Get(ctx context.Context, db, id string) (Doc, error)

	// Put creates or updates a document. A missing _id gets one assigned.
	// Returns the new revision.
	Put(ctx context.Context, db string, doc Doc) (string, error)

	// Delete removes a document by id. ErrNotFound if absent.
	Delete(ctx context.Context, db, id string) error

	// Merge updates the document with the given fields, creating it if
	// needed. Fields not named are preserved; _id/_rev in fields are
	// ignored. Returns the merged document.
	Merge(ctx context.Context, db, id string, fields Doc) (Doc, error)

	// Query runs a named view.
	Query(ctx context.Context, db, view string, opts QueryOptions) ([]Row, error)

	// Search runs the store's indexed full-text search over question
	// titles and tags.
	Search(ctx context.Context, db, query string) ([]Doc, error)

	// Info returns database metadata.
	Info(ctx context.Context, db string) (Info, error)

	// GetSecurity reads a database's permissions document.
	GetSecurity(ctx context.Context, db string) (Security, error)

	// PutSecurity writes a database's permissions document. ErrConflict
	// if it raced a concurrent update.
	PutSecurity(ctx context.Context, db string, sec Security) error

	// GenerateCredentials creates a fresh key/secret pair and grants it
	// the given capabilities on db. Credentials are never reused.
	GenerateCredentials(ctx context.Context, db string, caps []string) (Credentials, error)

	// Changes returns entries after the given sequence token together
	// with the next token. An empty since starts from the beginning.
	Changes(ctx context.Context, db, since string) ([]Change, string, error)
}

// ID extracts the _id of a document, if present.
func ID(doc Doc) string {
	s, _ := doc["_id"].(string)
	return s
}

// Rev extracts the _rev of a document, if present.
func Rev(doc Doc) string {
	s, _ := doc["_rev"].(string)
	return s
}
