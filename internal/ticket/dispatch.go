package ticket

import "github.com/dropDatabas3/dutydesk/internal/couch"

// ApplyPulled folds documents pulled by the sync coordinator into the
// current view. A document whose id is already in the list replaces the
// stale copy in place. A document not in the list is inserted at the
// front only when the current view is unassigned and the document is a
// newly unowned, undispositioned ticket; anything else is ignored and
// will appear when the view is next reloaded.
func (s *State) ApplyPulled(docs []couch.Doc) {
	for _, doc := range docs {
		t := FromDoc(doc)
		if t == nil {
			continue
		}
		if s.replaceInPlace(t) {
			continue
		}
		if s.Filter == FilterUnassigned && isNewUnassigned(t) {
			s.Docs = append([]*Ticket{t}, s.Docs...)
		}
	}
}

// replaceInPlace swaps an existing entry for the fresh copy. The
// presence check doubles as the de-dup guard for insertion.
func (s *State) replaceInPlace(t *Ticket) bool {
	for i, have := range s.Docs {
		if have.ID() == t.ID() {
			s.Docs[i] = t
			return true
		}
	}
	return false
}

// isNewUnassigned is the status-new heuristic for freshly imported
// tickets: explicitly unowned, undispositioned, still flagged new.
func isNewUnassigned(t *Ticket) bool {
	if owner, present := t.doc["owner"]; !present || owner != nil {
		return false
	}
	if t.Rejected() || t.Answered() {
		return false
	}
	status, _ := t.doc["status"].(string)
	return status == "new"
}
