package ticket

import "sort"

// Filter names the view currently shown by the client.
type Filter int

const (
	FilterStartup Filter = iota
	FilterUnassigned
	FilterMine
	FilterSearch
	FilterEdit
	FilterProfile
)

func (f Filter) String() string {
	switch f {
	case FilterUnassigned:
		return "unassigned"
	case FilterMine:
		return "mytickets"
	case FilterSearch:
		return "search"
	case FilterEdit:
		return "edit"
	case FilterProfile:
		return "profile"
	default:
		return "startup"
	}
}

// State is the client's view state: the current filter, the ticket list
// it selects, the user directory, and sync status flags. It is passed by
// reference to each operation; view selection itself stays in the pure
// functions below.
type State struct {
	Filter    Filter
	Docs      []*Ticket
	Directory map[string]string // user id -> display name
	NumDocs   int
	User      User

	SyncInProgress bool
	SyncComplete   bool
	SyncError      bool
}

// Locate finds a ticket in the current list by id.
func (s *State) Locate(id string) *Ticket {
	for _, t := range s.Docs {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// Remove drops a ticket from the current list. This is a local list
// operation only, not a state change on the ticket.
func (s *State) Remove(id string) {
	for i, t := range s.Docs {
		if t.ID() == id {
			s.Docs = append(s.Docs[:i], s.Docs[i+1:]...)
			return
		}
	}
}

// Unassigned selects tickets with no owner and no disposition, ordered
// by question creation date descending.
func Unassigned(docs []*Ticket) []*Ticket {
	var out []*Ticket
	for _, t := range docs {
		if _, owned := t.Owner(); owned || t.Rejected() || t.Answered() {
			continue
		}
		if _, present := t.doc["owner"]; !present {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationDate() > out[j].CreationDate()
	})
	return out
}

// Mine selects undispositioned tickets owned by userID. Order is not
// specified.
func Mine(docs []*Ticket, userID string) []*Ticket {
	var out []*Ticket
	for _, t := range docs {
		owner, owned := t.Owner()
		if !owned || owner != userID || t.Rejected() || t.Answered() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DistinctTags returns the sorted, de-duplicated union of question tags
// across the given tickets.
func DistinctTags(docs []*Ticket) []string {
	seen := map[string]bool{}
	for _, t := range docs {
		for _, tag := range t.Tags() {
			seen[tag] = true
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
