// Package ticket implements the ticket lifecycle engine: the operations
// an advocate performs on a question document (assign, reject, answer,
// notes, custom tags) and the view selection over the in-memory ticket
// set. Writes go to the local replica with optimistic-concurrency
// semantics; the sync coordinator carries them to the remote store.
package ticket

import (
	"sort"
	"time"

	"github.com/dropDatabas3/dutydesk/internal/couch"
)

// User is the acting advocate, taken from the logged-in user document.
type User struct {
	ID   string
	Name string
}

// Note is one entry in a ticket's ordered note sequence.
type Note struct {
	Time string `json:"time"`
	Note string `json:"note"`
	Who  string `json:"who"`
}

// Ticket wraps a raw ticket document. Mutations go through the engine so
// fields this package does not know about are preserved on write.
type Ticket struct {
	doc couch.Doc
}

// FromDoc wraps a store document. Returns nil for non-ticket documents
// (a ticket is identified by the presence of a question field).
func FromDoc(doc couch.Doc) *Ticket {
	if doc == nil {
		return nil
	}
	if _, ok := doc["question"].(map[string]any); !ok {
		return nil
	}
	return &Ticket{doc: doc}
}

// Doc returns the underlying document.
func (t *Ticket) Doc() couch.Doc { return t.doc }

func (t *Ticket) ID() string  { return couch.ID(t.doc) }
func (t *Ticket) Rev() string { return couch.Rev(t.doc) }

// Owner returns the owning user id and whether the ticket is owned.
func (t *Ticket) Owner() (string, bool) {
	s, ok := t.doc["owner"].(string)
	return s, ok && s != ""
}

func (t *Ticket) Rejected() bool {
	b, _ := t.doc["rejected"].(bool)
	return b
}

func (t *Ticket) Answered() bool {
	b, _ := t.doc["answered"].(bool)
	return b
}

func (t *Ticket) question() map[string]any {
	q, _ := t.doc["question"].(map[string]any)
	return q
}

// Title returns the question title.
func (t *Ticket) Title() string {
	s, _ := t.question()["title"].(string)
	return s
}

// CreationDate returns the question's creation date in epoch seconds.
func (t *Ticket) CreationDate() float64 {
	f, _ := t.question()["creation_date"].(float64)
	return f
}

// Tags returns the question's tags, sorted.
func (t *Ticket) Tags() []string {
	tags := toStrings(t.question()["tags"])
	sort.Strings(tags)
	return tags
}

// CustomTags returns the advocate-applied tags.
func (t *Ticket) CustomTags() []string {
	return toStrings(t.doc["custom_tags"])
}

// Notes returns the ordered note sequence.
func (t *Ticket) Notes() []Note {
	raw, _ := t.doc["notes"].([]any)
	notes := make([]Note, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		n := Note{}
		n.Time, _ = m["time"].(string)
		n.Note, _ = m["note"].(string)
		n.Who, _ = m["who"].(string)
		notes = append(notes, n)
	}
	return notes
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func isoNow(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339)
}
