package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
)

// WriteStatus tags the outcome of a lifecycle write.
type WriteStatus int

const (
	// WriteOK means the document was stored; Rev holds the new revision.
	WriteOK WriteStatus = iota
	// WriteConflict means the local copy's revision was stale. The caller
	// must refetch and decide whether to retry; the engine never does.
	WriteConflict
	// WriteFailed means the store rejected the write for another reason.
	WriteFailed
)

// WriteResult is the tagged result of one lifecycle write.
type WriteResult struct {
	Status WriteStatus
	Rev    string
	Err    error
}

// Engine performs lifecycle operations against a ticket database. Each
// operation issues exactly one revision-checked document update.
type Engine struct {
	store couch.Store
	db    string
	now   func() time.Time
}

// NewEngine creates an engine over the given store and database. now may
// be nil, defaulting to time.Now.
func NewEngine(store couch.Store, db string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, db: db, now: now}
}

// put issues the single store write for an operation and folds the error
// into a tagged result. On success the in-memory copy's revision is
// advanced so a follow-up operation on the same ticket does not conflict
// with our own write.
func (e *Engine) put(ctx context.Context, t *Ticket) WriteResult {
	rev, err := e.store.Put(ctx, e.db, t.doc)
	if err != nil {
		if errors.Is(err, couch.ErrConflict) {
			return WriteResult{Status: WriteConflict, Err: err}
		}
		return WriteResult{Status: WriteFailed, Err: err}
	}
	t.doc["_rev"] = rev
	return WriteResult{Status: WriteOK, Rev: rev}
}

// Assign sets the ticket's owner. owner may be a user id from the
// directory or a free-text delegate name; empty means the acting user
// takes it themselves. Valid from any non-terminal state, and ownership
// may be reassigned at any time prior to a terminal disposition.
func (e *Engine) Assign(ctx context.Context, t *Ticket, by User, owner string) WriteResult {
	if owner == "" {
		owner = by.ID
	}
	t.doc["owner"] = owner
	t.doc["assigned"] = true
	t.doc["assigned_by"] = by.ID
	t.doc["assigned_by_name"] = by.Name
	t.doc["assigned_at"] = isoNow(e.now)

	res := e.put(ctx, t)
	if res.Status == WriteOK {
		logger.From(ctx).Info("ticket assigned",
			logger.TicketID(t.ID()), logger.UserID(by.ID))
	}
	return res
}

// Reject marks the ticket rejected with actor and time stamps. Valid
// from any state; re-rejecting a rejected ticket is allowed and not
// meaningfully different.
func (e *Engine) Reject(ctx context.Context, t *Ticket, by User) WriteResult {
	t.doc["rejected"] = true
	t.doc["rejected_by"] = by.ID
	t.doc["rejected_by_name"] = by.Name
	t.doc["rejected_at"] = isoNow(e.now)
	return e.put(ctx, t)
}

// Answer marks the ticket answered with actor and time stamps. Same
// validity as Reject.
func (e *Engine) Answer(ctx context.Context, t *Ticket, by User) WriteResult {
	t.doc["answered"] = true
	t.doc["answered_by"] = by.ID
	t.doc["answered_by_name"] = by.Name
	t.doc["answered_at"] = isoNow(e.now)
	return e.put(ctx, t)
}

// AddNote appends an entry to the ticket's note sequence. Disposition is
// untouched.
func (e *Engine) AddNote(ctx context.Context, t *Ticket, text string, author User) WriteResult {
	notes, _ := t.doc["notes"].([]any)
	notes = append(notes, map[string]any{
		"time": isoNow(e.now),
		"note": text,
		"who":  author.Name,
	})
	t.doc["notes"] = notes
	return e.put(ctx, t)
}

// AddCustomTags parses a comma-separated string, normalizes each entry,
// and unions the result into the ticket's custom tags. Applying the same
// input twice yields the same set as applying it once.
func (e *Engine) AddCustomTags(ctx context.Context, t *Ticket, raw string) WriteResult {
	existing := t.CustomTags()
	merged := append([]string(nil), existing...)
	for _, tag := range NormalizeTags(raw) {
		if !contains(merged, tag) {
			merged = append(merged, tag)
		}
	}
	t.doc["custom_tags"] = merged
	return e.put(ctx, t)
}

// RemoveCustomTag removes all occurrences equal to tag from the ticket's
// custom tags. Removing an absent tag is a no-op on the set, but still
// issues the write.
func (e *Engine) RemoveCustomTag(ctx context.Context, t *Ticket, tag string) WriteResult {
	existing := t.CustomTags()
	kept := make([]string, 0, len(existing))
	for _, have := range existing {
		if have != tag {
			kept = append(kept, have)
		}
	}
	t.doc["custom_tags"] = kept
	return e.put(ctx, t)
}

// Load fetches one ticket by id. Returns couch.ErrNotFound for missing
// or non-ticket documents alike.
func (e *Engine) Load(ctx context.Context, id string) (*Ticket, error) {
	doc, err := e.store.Get(ctx, e.db, id)
	if err != nil {
		return nil, err
	}
	t := FromDoc(doc)
	if t == nil {
		return nil, couch.ErrNotFound
	}
	return t, nil
}

// LoadUnassigned queries the store for the unassigned view, newest
// question first.
func (e *Engine) LoadUnassigned(ctx context.Context) ([]*Ticket, error) {
	rows, err := e.store.Query(ctx, e.db, couch.ViewUnassigned, couch.QueryOptions{
		IncludeDocs: true,
		Descending:  true,
	})
	if err != nil {
		return nil, err
	}
	return rowsToTickets(rows), nil
}

// LoadMine queries the store for tickets currently owned by userID.
func (e *Engine) LoadMine(ctx context.Context, userID string) ([]*Ticket, error) {
	rows, err := e.store.Query(ctx, e.db, couch.ViewByOwner, couch.QueryOptions{
		IncludeDocs: true,
		Key:         userID,
	})
	if err != nil {
		return nil, err
	}
	return rowsToTickets(rows), nil
}

// Search projects the store's indexed title/tag search into tickets.
func (e *Engine) Search(ctx context.Context, query string) ([]*Ticket, error) {
	docs, err := e.store.Search(ctx, e.db, query)
	if err != nil {
		return nil, err
	}
	out := make([]*Ticket, 0, len(docs))
	for _, doc := range docs {
		if t := FromDoc(doc); t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// AllCustomTags returns the distinct custom tags across the database,
// used for tag suggestions.
func (e *Engine) AllCustomTags(ctx context.Context) ([]string, error) {
	rows, err := e.store.Query(ctx, e.db, couch.ViewCustomTags, couch.QueryOptions{})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toStrings(rows[0].Value), nil
}

func rowsToTickets(rows []couch.Row) []*Ticket {
	out := make([]*Ticket, 0, len(rows))
	for _, row := range rows {
		if t := FromDoc(row.Doc); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func contains(set []string, s string) bool {
	for _, have := range set {
		if have == s {
			return true
		}
	}
	return false
}
