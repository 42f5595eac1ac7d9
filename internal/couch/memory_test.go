package couch

import (
	"context"
	"errors"
	"testing"
)

func newTicket(id string, creation float64) Doc {
	return Doc{
		"_id":   id,
		"owner": nil,
		"question": map[string]any{
			"title":         "title of " + id,
			"creation_date": creation,
			"tags":          []any{"go", "http"},
		},
	}
}

func TestPutAssignsIDAndRev(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	doc := Doc{"question": map[string]any{"title": "x"}}
	rev, err := m.Put(ctx, "so", doc)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rev == "" {
		t.Fatal("expected a revision")
	}
	if ID(doc) != "" {
		t.Fatal("put must not mutate the caller's document")
	}
}

func TestPutConflictOnStaleRev(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	doc := newTicket("q1", 100)
	if _, err := m.Put(ctx, "so", doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	// writer A updates
	current, _ := m.Get(ctx, "so", "q1")
	current["owner"] = "U1"
	if _, err := m.Put(ctx, "so", current); err != nil {
		t.Fatalf("update: %v", err)
	}

	// writer B still holds rev 1
	stale := newTicket("q1", 100)
	stale["_rev"] = Rev(doc)
	if _, err := m.Put(ctx, "so", stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	// a rev on a brand-new id is also a conflict
	ghost := newTicket("q9", 100)
	ghost["_rev"] = "1-deadbeef"
	if _, err := m.Put(ctx, "so", ghost); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict for rev on new doc, got %v", err)
	}
}

func TestDeleteIsTerminal(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	if _, err := m.Put(ctx, "so", newTicket("q1", 100)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Delete(ctx, "so", "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "so", "q1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if err := m.Delete(ctx, "so", "q1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound on double delete, got %v", err)
	}
}

func TestMergePreservesUnrelatedFields(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	if _, err := m.Put(ctx, "so", Doc{"_id": "U1", "favorite": "tabs"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	merged, err := m.Merge(ctx, "so", "U1", Doc{"type": "user", "user_name": "ana", "_id": "EVIL", "_rev": "9-evil"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged["favorite"] != "tabs" {
		t.Fatal("merge lost an unrelated field")
	}
	if merged["user_name"] != "ana" || merged["type"] != "user" {
		t.Fatalf("merge did not apply fields: %v", merged)
	}
	if ID(merged) != "U1" {
		t.Fatalf("merge must not retarget _id, got %q", ID(merged))
	}
}

func TestMergeCreatesMissingDoc(t *testing.T) {
	m := NewMemory("so")
	merged, err := m.Merge(context.Background(), "so", "U2", Doc{"type": "user"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if ID(merged) != "U2" || Rev(merged) == "" {
		t.Fatalf("expected created doc with id and rev, got %v", merged)
	}
}

func TestQueryUnassigned(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	older := newTicket("q-old", 100)
	newer := newTicket("q-new", 200)
	owned := newTicket("q-owned", 300)
	owned["owner"] = "U1"
	rejected := newTicket("q-rejected", 400)
	rejected["rejected"] = true
	noOwnerKey := newTicket("q-nokey", 500)
	delete(noOwnerKey, "owner")

	for _, doc := range []Doc{older, newer, owned, rejected, noOwnerKey} {
		if _, err := m.Put(ctx, "so", doc); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	rows, err := m.Query(ctx, "so", ViewUnassigned, QueryOptions{Descending: true, IncludeDocs: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 unassigned rows, got %d", len(rows))
	}
	if rows[0].ID != "q-new" || rows[1].ID != "q-old" {
		t.Fatalf("want newest first, got %s, %s", rows[0].ID, rows[1].ID)
	}
}

func TestQueryByOwnerFiltersTerminal(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	mine := newTicket("q1", 100)
	mine["owner"] = "U1"
	done := newTicket("q2", 200)
	done["owner"] = "U1"
	done["answered"] = true
	theirs := newTicket("q3", 300)
	theirs["owner"] = "U2"

	for _, doc := range []Doc{mine, done, theirs} {
		if _, err := m.Put(ctx, "so", doc); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	rows, err := m.Query(ctx, "so", ViewByOwner, QueryOptions{Key: "U1", IncludeDocs: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "q1" {
		t.Fatalf("want only q1, got %v", rows)
	}
}

func TestSearchMatchesTitleAndTags(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	a := newTicket("qa", 100)
	a["question"].(map[string]any)["title"] = "How do I parse JSON in Go"
	b := newTicket("qb", 200)
	b["question"].(map[string]any)["tags"] = []any{"json", "parsing"}
	c := newTicket("qc", 300)

	for _, doc := range []Doc{a, b, c} {
		if _, err := m.Put(ctx, "so", doc); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	docs, err := m.Search(ctx, "so", "JSON")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 matches, got %d", len(docs))
	}
	if docs, _ := m.Search(ctx, "so", "  "); docs != nil {
		t.Fatal("blank query must match nothing")
	}
}

func TestSecurityRevisionConflict(t *testing.T) {
	m := NewMemory("events")
	ctx := context.Background()

	sec, err := m.GetSecurity(ctx, "events")
	if err != nil {
		t.Fatalf("get security: %v", err)
	}
	sec.Cloudant["apikey-a"] = []string{CapRead}
	if err := m.PutSecurity(ctx, "events", sec); err != nil {
		t.Fatalf("put security: %v", err)
	}

	// the old revision no longer matches
	sec.Cloudant["apikey-b"] = []string{CapRead}
	if err := m.PutSecurity(ctx, "events", sec); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict on stale security rev, got %v", err)
	}

	fresh, err := m.GetSecurity(ctx, "events")
	if err != nil {
		t.Fatalf("get security: %v", err)
	}
	if _, ok := fresh.Cloudant["apikey-a"]; !ok {
		t.Fatal("accepted write went missing")
	}
	if _, ok := fresh.Cloudant["apikey-b"]; ok {
		t.Fatal("conflicting write must not land")
	}
}

func TestGenerateCredentials(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	creds, err := m.GenerateCredentials(ctx, "so", []string{CapRead, CapWrite, CapReplicate})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if creds.Key == "" || creds.Secret == "" {
		t.Fatal("want non-empty key and secret")
	}
	if !m.VerifyCredentials(creds.Key, creds.Secret) {
		t.Fatal("fresh credentials must verify")
	}
	if m.VerifyCredentials(creds.Key, "wrong") {
		t.Fatal("wrong secret must not verify")
	}
	if m.VerifyCredentials("apikey-unknown", creds.Secret) {
		t.Fatal("unknown key must not verify")
	}

	sec, err := m.GetSecurity(ctx, "so")
	if err != nil {
		t.Fatalf("get security: %v", err)
	}
	caps := sec.Cloudant[creds.Key]
	if len(caps) != 3 {
		t.Fatalf("want 3 capabilities on the db, got %v", caps)
	}
}

func TestChangesSince(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	if _, err := m.Put(ctx, "so", newTicket("q1", 100)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := m.Put(ctx, "so", newTicket("q2", 200)); err != nil {
		t.Fatalf("put: %v", err)
	}

	changes, last, err := m.Changes(ctx, "so", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("want 2 changes, got %d", len(changes))
	}

	changes, _, err = m.Changes(ctx, "so", last)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("want no changes past last seq, got %d", len(changes))
	}

	if err := m.Delete(ctx, "so", "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	changes, _, err = m.Changes(ctx, "so", last)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 1 || !changes[0].Deleted {
		t.Fatalf("want one deletion change, got %v", changes)
	}
}

func TestApplyKeepsIncomingRev(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	doc := newTicket("q1", 100)
	doc["_rev"] = "4-remote"
	if err := m.Apply("so", Change{ID: "q1", Doc: doc}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := m.Get(ctx, "so", "q1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if Rev(got) != "4-remote" {
		t.Fatalf("apply must keep the incoming rev, got %q", Rev(got))
	}
}

func TestDestroyDropsEverything(t *testing.T) {
	m := NewMemory("so")
	ctx := context.Background()

	if _, err := m.Put(ctx, "so", newTicket("q1", 100)); err != nil {
		t.Fatalf("put: %v", err)
	}
	m.Destroy()
	info, err := m.Info(ctx, "so")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.DocCount != 0 {
		t.Fatalf("want empty store after destroy, got %d docs", info.DocCount)
	}
}
