// Package replicate keeps the local replica synchronized with the
// remote store. The replication transport itself (change feeds, revision
// tracking) belongs to the store; this package only coordinates one
// continuous bidirectional session and translates its progress into
// events the view layer consumes on its own schedule.
package replicate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
)

// State of the session.
type State int

const (
	StateInitialSync State = iota
	StateSyncing
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitialSync:
		return "initial-sync"
	case StateSyncing:
		return "syncing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind discriminates coordinator events.
type EventKind int

const (
	// EventChange carries documents pulled from the remote store.
	EventChange EventKind = iota
	// EventPaused signals the session is caught up and idle; the view
	// layer refreshes aggregate counts and the user directory.
	EventPaused
	// EventFailed signals a transport or auth failure. The session keeps
	// retrying; this only flips a UI-visible flag.
	EventFailed
)

// Event is one message from the coordinator to the view layer.
type Event struct {
	Kind      EventKind
	Direction string // "pull" or "push", set on EventChange
	Docs      []couch.Doc
	Err       error
}

// Config wires a Coordinator.
type Config struct {
	Local    *couch.Memory
	LocalDB  string
	Remote   couch.Store
	RemoteDB string

	// Interval between sync rounds in steady state. Default 2s.
	Interval time.Duration
	// MaxBackoff caps the retry delay after transport failures.
	// Default 30s.
	MaxBackoff time.Duration
}

// Coordinator runs the replication session. It never gives up: transport
// failures back off and retry indefinitely while live.
type Coordinator struct {
	local    *couch.Memory
	localDB  string
	remote   couch.Store
	remoteDB string

	interval   time.Duration
	maxBackoff time.Duration

	events chan Event

	mu        sync.Mutex
	state     State
	pullSince string
	pushSince string
	// pulledRevs suppresses pushing back what we just pulled.
	pulledRevs map[string]string
	// pushedRevs suppresses re-emitting our own writes as pull events.
	pushedRevs map[string]string
}

// New creates a Coordinator in the initial-sync state.
func New(cfg Config) *Coordinator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Coordinator{
		local:      cfg.Local,
		localDB:    cfg.LocalDB,
		remote:     cfg.Remote,
		remoteDB:   cfg.RemoteDB,
		interval:   interval,
		maxBackoff: maxBackoff,
		events:     make(chan Event, 64),
		state:      StateInitialSync,
		pulledRevs: make(map[string]string),
		pushedRevs: make(map[string]string),
	}
}

// Events returns the message channel. The coordinator never blocks on a
// slow consumer: when the buffer is full, events are dropped (a missed
// paused refresh repeats on the next round).
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Run drives the session until ctx is cancelled. It performs the initial
// one-way sync first, then alternates pull and push rounds, pausing when
// caught up and backing off (without ever stopping) on failure.
func (c *Coordinator) Run(ctx context.Context) error {
	log := logger.Named("replicate").With(logger.DB(c.remoteDB))
	backoff := c.interval

	for {
		if err := ctx.Err(); err != nil {
			close(c.events)
			return err
		}

		pulled, pullErr := c.pullOnce(ctx)
		var pushed int
		var pushErr error
		if pullErr == nil {
			pushed, pushErr = c.pushOnce(ctx)
		}

		switch {
		case pullErr != nil || pushErr != nil:
			err := pullErr
			if err == nil {
				err = pushErr
			}
			c.setState(StateError)
			c.emit(Event{Kind: EventFailed, Err: err})
			log.Warn("sync round failed, retrying", logger.Err(err))
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}

		case pulled == 0 && pushed == 0:
			if c.State() != StatePaused {
				c.setState(StatePaused)
				c.emit(Event{Kind: EventPaused})
			}
			backoff = c.interval

		default:
			c.setState(StateSyncing)
			backoff = c.interval
		}

		select {
		case <-ctx.Done():
			close(c.events)
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// pullOnce applies one batch of remote changes to the local replica and
// emits a pull event for the documents the view layer should dispatch.
func (c *Coordinator) pullOnce(ctx context.Context) (int, error) {
	c.mu.Lock()
	since := c.pullSince
	c.mu.Unlock()

	changes, next, err := c.remote.Changes(ctx, c.remoteDB, since)
	if err != nil {
		return 0, err
	}

	var dispatch []couch.Doc
	applied := 0
	for _, change := range changes {
		rev := couch.Rev(change.Doc)

		// skip what the replica already has
		if have, err := c.local.Get(ctx, c.localDB, change.ID); err == nil && couch.Rev(have) == rev && !change.Deleted {
			continue
		}

		if err := c.local.Apply(c.localDB, change); err != nil {
			return applied, err
		}
		applied++

		c.mu.Lock()
		c.pulledRevs[change.ID] = rev
		echo := c.pushedRevs[change.ID] == rev && rev != ""
		c.mu.Unlock()

		// our own writes come back on the feed; apply silently
		if echo || change.Deleted {
			continue
		}
		dispatch = append(dispatch, change.Doc)
	}

	c.mu.Lock()
	c.pullSince = next
	c.mu.Unlock()

	if len(dispatch) > 0 {
		c.emit(Event{Kind: EventChange, Direction: "pull", Docs: dispatch})
	}
	return applied, nil
}

// pushOnce sends local edits to the remote store. The last write to
// reach the store wins per document: on a revision conflict the remote
// copy's revision is adopted and the write reissued.
func (c *Coordinator) pushOnce(ctx context.Context) (int, error) {
	c.mu.Lock()
	since := c.pushSince
	c.mu.Unlock()

	changes, next, err := c.local.Changes(ctx, c.localDB, since)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, change := range changes {
		rev := couch.Rev(change.Doc)

		c.mu.Lock()
		fromRemote := c.pulledRevs[change.ID] == rev && rev != ""
		c.mu.Unlock()
		if fromRemote || change.Deleted {
			continue
		}

		newRev, err := c.pushDoc(ctx, change.Doc)
		if err != nil {
			return pushed, err
		}
		pushed++

		c.mu.Lock()
		c.pushedRevs[change.ID] = newRev
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.pushSince = next
	c.mu.Unlock()

	if pushed > 0 {
		c.emit(Event{Kind: EventChange, Direction: "push"})
	}
	return pushed, nil
}

func (c *Coordinator) pushDoc(ctx context.Context, doc couch.Doc) (string, error) {
	out := couch.Doc{}
	for k, v := range doc {
		out[k] = v
	}

	remote, err := c.remote.Get(ctx, c.remoteDB, couch.ID(out))
	switch {
	case err == nil:
		out["_rev"] = couch.Rev(remote)
	case isNotFound(err):
		delete(out, "_rev")
	default:
		return "", err
	}

	rev, err := c.remote.Put(ctx, c.remoteDB, out)
	if err != nil {
		return "", err
	}
	return rev, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, couch.ErrNotFound)
}
