package ticket

import (
	"reflect"
	"testing"

	"github.com/dropDatabas3/dutydesk/internal/couch"
)

func ticketDoc(id string, creation float64, mutate func(couch.Doc)) *Ticket {
	doc := couch.Doc{
		"_id":   id,
		"owner": nil,
		"question": map[string]any{
			"title":         "title of " + id,
			"creation_date": creation,
			"tags":          []any{"go"},
		},
	}
	if mutate != nil {
		mutate(doc)
	}
	return FromDoc(doc)
}

func ids(docs []*Ticket) []string {
	out := make([]string, 0, len(docs))
	for _, t := range docs {
		out = append(out, t.ID())
	}
	return out
}

func TestUnassignedSelection(t *testing.T) {
	docs := []*Ticket{
		ticketDoc("q-old", 100, nil),
		ticketDoc("q-new", 300, nil),
		ticketDoc("q-mid", 200, nil),
		ticketDoc("q-owned", 400, func(d couch.Doc) { d["owner"] = "U1" }),
		ticketDoc("q-rejected", 500, func(d couch.Doc) { d["rejected"] = true }),
		ticketDoc("q-answered", 600, func(d couch.Doc) { d["answered"] = true }),
		ticketDoc("q-imported", 700, func(d couch.Doc) { delete(d, "owner") }),
	}

	got := ids(Unassigned(docs))
	want := []string{"q-new", "q-mid", "q-old"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Unassigned = %v, want %v", got, want)
	}
}

func TestMineSelection(t *testing.T) {
	docs := []*Ticket{
		ticketDoc("q1", 100, func(d couch.Doc) { d["owner"] = "U1" }),
		ticketDoc("q2", 200, func(d couch.Doc) { d["owner"] = "U2" }),
		ticketDoc("q3", 300, func(d couch.Doc) { d["owner"] = "U1"; d["answered"] = true }),
		ticketDoc("q4", 400, nil),
	}

	got := ids(Mine(docs, "U1"))
	if !reflect.DeepEqual(got, []string{"q1"}) {
		t.Fatalf("Mine = %v, want [q1]", got)
	}
}

func TestDistinctTags(t *testing.T) {
	docs := []*Ticket{
		ticketDoc("q1", 100, func(d couch.Doc) {
			d["question"].(map[string]any)["tags"] = []any{"go", "http"}
		}),
		ticketDoc("q2", 200, func(d couch.Doc) {
			d["question"].(map[string]any)["tags"] = []any{"http", "json"}
		}),
	}

	got := DistinctTags(docs)
	want := []string{"go", "http", "json"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DistinctTags = %v, want %v", got, want)
	}
}

func TestStateLocateAndRemove(t *testing.T) {
	s := &State{Docs: []*Ticket{
		ticketDoc("q1", 100, nil),
		ticketDoc("q2", 200, nil),
	}}

	if got := s.Locate("q2"); got == nil || got.ID() != "q2" {
		t.Fatalf("Locate(q2) = %v", got)
	}
	if got := s.Locate("missing"); got != nil {
		t.Fatalf("Locate(missing) = %v, want nil", got)
	}

	s.Remove("q1")
	if !reflect.DeepEqual(ids(s.Docs), []string{"q2"}) {
		t.Fatalf("after Remove: %v", ids(s.Docs))
	}
	s.Remove("q1") // absent, no-op
	if len(s.Docs) != 1 {
		t.Fatalf("removing an absent id changed the list: %v", ids(s.Docs))
	}
}
