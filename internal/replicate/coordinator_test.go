package replicate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/dutydesk/internal/couch"
)

func newTicketDoc(id string, creation float64) couch.Doc {
	return couch.Doc{
		"_id":    id,
		"owner":  nil,
		"status": "new",
		"question": map[string]any{
			"title":         "title of " + id,
			"creation_date": creation,
		},
	}
}

func startCoordinator(t *testing.T, local *couch.Memory, remote couch.Store) (*Coordinator, context.CancelFunc) {
	t.Helper()
	c := New(Config{
		Local:    local,
		LocalDB:  "so",
		Remote:   remote,
		RemoteDB: "so",
		Interval: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("coordinator did not stop")
		}
	})
	return c, cancel
}

// waitFor drains events until one satisfies the predicate or the
// deadline hits.
func waitFor(t *testing.T, c *Coordinator, what string, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", what)
			}
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestInitialPullDispatchesRemoteDocs(t *testing.T) {
	remote := couch.NewMemory("so")
	ctx := context.Background()
	for _, doc := range []couch.Doc{newTicketDoc("q1", 100), newTicketDoc("q2", 200)} {
		if _, err := remote.Put(ctx, "so", doc); err != nil {
			t.Fatalf("seed remote: %v", err)
		}
	}

	local := couch.NewMemory("so")
	c, _ := startCoordinator(t, local, remote)

	ev := waitFor(t, c, "pull dispatch", func(ev Event) bool {
		return ev.Kind == EventChange && ev.Direction == "pull"
	})
	if len(ev.Docs) != 2 {
		t.Fatalf("want both docs dispatched, got %d", len(ev.Docs))
	}

	waitFor(t, c, "paused", func(ev Event) bool { return ev.Kind == EventPaused })
	if c.State() != StatePaused {
		t.Fatalf("want paused state, got %v", c.State())
	}

	if _, err := local.Get(ctx, "so", "q1"); err != nil {
		t.Fatalf("replica missing q1: %v", err)
	}
	info, _ := local.Info(ctx, "so")
	if info.DocCount != 2 {
		t.Fatalf("replica doc count = %d", info.DocCount)
	}
}

func TestPushDeliversLocalEdits(t *testing.T) {
	remote := couch.NewMemory("so")
	local := couch.NewMemory("so")
	ctx := context.Background()

	if _, err := local.Put(ctx, "so", newTicketDoc("q-local", 100)); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	c, _ := startCoordinator(t, local, remote)

	waitFor(t, c, "push", func(ev Event) bool {
		return ev.Kind == EventChange && ev.Direction == "push"
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := remote.Get(ctx, "so", "q-local"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("local edit never reached the remote")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOwnWritesAreNotEchoedBack(t *testing.T) {
	remote := couch.NewMemory("so")
	local := couch.NewMemory("so")
	ctx := context.Background()

	if _, err := local.Put(ctx, "so", newTicketDoc("q-local", 100)); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	c, _ := startCoordinator(t, local, remote)

	// run until we have pushed and gone idle
	waitFor(t, c, "paused after push", func(ev Event) bool {
		if ev.Kind == EventChange && ev.Direction == "pull" {
			for _, doc := range ev.Docs {
				if couch.ID(doc) == "q-local" {
					t.Fatal("own write came back as a pull dispatch")
				}
			}
		}
		return ev.Kind == EventPaused
	})
}

func TestPushAdoptsRemoteRevisionOnConflict(t *testing.T) {
	remote := couch.NewMemory("so")
	local := couch.NewMemory("so")
	ctx := context.Background()

	// the same ticket exists on both sides with unrelated revisions
	theirs := newTicketDoc("q1", 100)
	theirs["_rev"] = "5-remote"
	theirs["owner"] = "U2"
	if err := remote.Apply("so", couch.Change{ID: "q1", Doc: theirs}); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	mine := newTicketDoc("q1", 100)
	mine["owner"] = "U1"
	if _, err := local.Put(ctx, "so", mine); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	c, _ := startCoordinator(t, local, remote)
	waitFor(t, c, "push", func(ev Event) bool {
		return ev.Kind == EventChange && ev.Direction == "push"
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		doc, err := remote.Get(ctx, "so", "q1")
		if err == nil && doc["owner"] == "U1" {
			if !strings.HasPrefix(couch.Rev(doc), "6-") {
				t.Fatalf("push must adopt and advance the remote rev, got %q", couch.Rev(doc))
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("local edit never won on the remote")
		}
		time.Sleep(time.Millisecond)
	}
}

// flakyRemote fails its change feed a fixed number of times.
type flakyRemote struct {
	*couch.Memory
	failures int
}

func (f *flakyRemote) Changes(ctx context.Context, db, since string) ([]couch.Change, string, error) {
	if f.failures > 0 {
		f.failures--
		return nil, since, couch.ErrTransport
	}
	return f.Memory.Changes(ctx, db, since)
}

func TestTransportFailureRetriesForever(t *testing.T) {
	remote := &flakyRemote{Memory: couch.NewMemory("so"), failures: 3}
	ctx := context.Background()
	if _, err := remote.Memory.Put(ctx, "so", newTicketDoc("q1", 100)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	local := couch.NewMemory("so")
	c, _ := startCoordinator(t, local, remote)

	waitFor(t, c, "failure event", func(ev Event) bool { return ev.Kind == EventFailed })

	// the session recovers once the feed comes back
	ev := waitFor(t, c, "recovery pull", func(ev Event) bool {
		return ev.Kind == EventChange && ev.Direction == "pull"
	})
	if len(ev.Docs) != 1 || couch.ID(ev.Docs[0]) != "q1" {
		t.Fatalf("unexpected recovery dispatch: %v", ev.Docs)
	}
}

func TestPausedEmittedOncePerIdleStretch(t *testing.T) {
	remote := couch.NewMemory("so")
	local := couch.NewMemory("so")
	c, _ := startCoordinator(t, local, remote)

	waitFor(t, c, "paused", func(ev Event) bool { return ev.Kind == EventPaused })

	// many idle rounds later there is still no second paused event
	select {
	case ev, ok := <-c.Events():
		if ok && ev.Kind == EventPaused {
			t.Fatal("paused must only be emitted on the transition")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeletionsReplicateWithoutDispatch(t *testing.T) {
	remote := couch.NewMemory("so")
	ctx := context.Background()
	if _, err := remote.Put(ctx, "so", newTicketDoc("q1", 100)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	local := couch.NewMemory("so")
	c, _ := startCoordinator(t, local, remote)
	waitFor(t, c, "initial pull", func(ev Event) bool {
		return ev.Kind == EventChange && ev.Direction == "pull"
	})

	if err := remote.Delete(ctx, "so", "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := local.Get(ctx, "so", "q1"); err != nil {
			return // deletion reached the replica
		}
		if time.Now().After(deadline) {
			t.Fatal("deletion never reached the replica")
		}
		time.Sleep(time.Millisecond)
	}
}
