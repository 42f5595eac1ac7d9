package ticket

import (
	"reflect"
	"testing"

	"github.com/dropDatabas3/dutydesk/internal/couch"
)

func newStatusDoc(id string) couch.Doc {
	return couch.Doc{
		"_id":    id,
		"owner":  nil,
		"status": "new",
		"question": map[string]any{
			"title":         "title of " + id,
			"creation_date": float64(100),
		},
	}
}

func TestApplyPulledReplacesInPlace(t *testing.T) {
	s := &State{
		Filter: FilterMine,
		Docs:   []*Ticket{ticketDoc("q1", 100, nil), ticketDoc("q2", 200, nil)},
	}

	fresh := newStatusDoc("q1")
	fresh["owner"] = "U1"
	s.ApplyPulled([]couch.Doc{fresh})

	if len(s.Docs) != 2 {
		t.Fatalf("replace must not change the list length, got %d", len(s.Docs))
	}
	if owner, ok := s.Docs[0].Owner(); !ok || owner != "U1" {
		t.Fatal("stale entry was not replaced")
	}
}

func TestApplyPulledInsertsNewUnassignedAtFront(t *testing.T) {
	s := &State{
		Filter: FilterUnassigned,
		Docs:   []*Ticket{ticketDoc("q1", 100, nil)},
	}

	s.ApplyPulled([]couch.Doc{newStatusDoc("q2")})
	if got := ids(s.Docs); !reflect.DeepEqual(got, []string{"q2", "q1"}) {
		t.Fatalf("want q2 prepended, got %v", got)
	}
}

func TestApplyPulledNeverDuplicates(t *testing.T) {
	s := &State{
		Filter: FilterUnassigned,
		Docs:   []*Ticket{FromDoc(newStatusDoc("q1"))},
	}

	// the same doc arriving again replaces, it never inserts a twin
	s.ApplyPulled([]couch.Doc{newStatusDoc("q1")})
	s.ApplyPulled([]couch.Doc{newStatusDoc("q1")})
	if got := ids(s.Docs); !reflect.DeepEqual(got, []string{"q1"}) {
		t.Fatalf("duplicate insertion: %v", got)
	}
}

func TestApplyPulledIgnoresNonQualifying(t *testing.T) {
	owned := newStatusDoc("q-owned")
	owned["owner"] = "U1"
	rejected := newStatusDoc("q-rejected")
	rejected["rejected"] = true
	settled := newStatusDoc("q-settled")
	settled["status"] = "old"
	notTicket := couch.Doc{"_id": "U9", "type": "user"}

	s := &State{Filter: FilterUnassigned}
	s.ApplyPulled([]couch.Doc{owned, rejected, settled, notTicket})
	if len(s.Docs) != 0 {
		t.Fatalf("non-qualifying docs were inserted: %v", ids(s.Docs))
	}
}

func TestApplyPulledOnlyInsertsInUnassignedView(t *testing.T) {
	s := &State{Filter: FilterSearch}
	s.ApplyPulled([]couch.Doc{newStatusDoc("q1")})
	if len(s.Docs) != 0 {
		t.Fatal("insertion is reserved for the unassigned view")
	}
}
