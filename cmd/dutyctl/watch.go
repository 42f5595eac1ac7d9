package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/dutydesk/internal/cache"
	"github.com/dropDatabas3/dutydesk/internal/couch"
	"github.com/dropDatabas3/dutydesk/internal/replicate"
	"github.com/dropDatabas3/dutydesk/internal/ticket"
)

const directoryCacheKey = "dutydesk:directory"
const directoryCacheTTL = 5 * time.Minute

func (a *app) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the unassigned queue live",
		Long: "Keep a local replica in sync with the store and print queue\n" +
			"changes as they arrive. Runs until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession()
			if err != nil {
				return err
			}
			remote, err := s.store()
			if err != nil {
				return err
			}
			return a.runWatch(cmd.Context(), cmd.OutOrStdout(), s, remote, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "sync round interval")
	return cmd
}

func (a *app) runWatch(ctx context.Context, out io.Writer, s *session, remote couch.Store, interval time.Duration) error {
	local := couch.NewMemory(a.db)
	defer local.Destroy()

	cc, err := cache.New(cache.Config{
		Driver: os.Getenv("CACHE_DRIVER"),
		Addr:   os.Getenv("REDIS_ADDR"),
	})
	if err != nil {
		return err
	}
	defer cc.Close()

	state := &ticket.State{
		Filter:    ticket.FilterUnassigned,
		Directory: loadDirectoryCache(ctx, cc),
		User:      s.me(),
	}

	coord := replicate.New(replicate.Config{
		Local:    local,
		LocalDB:  a.db,
		Remote:   remote,
		RemoteDB: a.db,
		Interval: interval,
	})

	fmt.Fprintf(out, "watching %s as %s, ^C to stop\n", a.db, displayName(state.User.Name, state.User.ID))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(ctx)
	})
	g.Go(func() error {
		for ev := range coord.Events() {
			a.handleEvent(ctx, out, local, cc, state, ev)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) handleEvent(ctx context.Context, out io.Writer, local *couch.Memory, cc cache.Client, state *ticket.State, ev replicate.Event) {
	switch ev.Kind {
	case replicate.EventChange:
		if ev.Direction != "pull" || len(ev.Docs) == 0 {
			return
		}
		state.SyncInProgress = true
		state.SyncError = false
		before := idSet(state.Docs)
		state.ApplyPulled(ev.Docs)
		for _, t := range state.Docs {
			if !before[t.ID()] {
				fmt.Fprintf(out, "+ %s  %s\n", t.ID(), t.Title())
			}
		}
		for _, doc := range ev.Docs {
			t := ticket.FromDoc(doc)
			if t == nil {
				continue
			}
			if owner, ok := t.Owner(); ok && before[t.ID()] {
				name := owner
				if display, ok := state.Directory[owner]; ok {
					name = display
				}
				fmt.Fprintf(out, "~ %s  claimed by %s\n", t.ID(), name)
				state.Remove(t.ID())
			}
		}

	case replicate.EventPaused:
		state.SyncInProgress = false
		if !state.SyncComplete {
			// first catch-up: load the queue from the replica
			eng := ticket.NewEngine(local, a.db, nil)
			if docs, err := eng.LoadUnassigned(ctx); err == nil {
				state.Docs = docs
			}
		}
		state.SyncComplete = true
		a.refreshAggregates(ctx, local, cc, state)
		fmt.Fprintf(out, "= in sync, %d docs, %d unassigned\n", state.NumDocs, len(state.Docs))

	case replicate.EventFailed:
		state.SyncError = true
		fmt.Fprintf(out, "! sync error, retrying: %v\n", ev.Err)
	}
}

// refreshAggregates recomputes the doc count and the user directory from
// the replica. The directory also lands in the cache so the next
// invocation starts with names instead of raw ids.
func (a *app) refreshAggregates(ctx context.Context, local *couch.Memory, cc cache.Client, state *ticket.State) {
	if info, err := local.Info(ctx, a.db); err == nil {
		state.NumDocs = info.DocCount
	}
	rows, err := local.Query(ctx, a.db, couch.ViewUsers, couch.QueryOptions{IncludeDocs: true})
	if err != nil {
		return
	}
	dir := make(map[string]string, len(rows))
	for _, row := range rows {
		id, _ := row.Doc["user_id"].(string)
		if id == "" {
			id = couch.ID(row.Doc)
		}
		name, _ := row.Doc["user_name"].(string)
		dir[id] = name
	}
	if len(dir) > 0 {
		state.Directory = dir
		if raw, err := json.Marshal(dir); err == nil {
			_ = cc.Set(ctx, directoryCacheKey, string(raw), directoryCacheTTL)
		}
	}
}

func loadDirectoryCache(ctx context.Context, cc cache.Client) map[string]string {
	dir := map[string]string{}
	raw, err := cc.Get(ctx, directoryCacheKey)
	if err != nil {
		return dir
	}
	_ = json.Unmarshal([]byte(raw), &dir)
	return dir
}

func idSet(docs []*ticket.Ticket) map[string]bool {
	set := make(map[string]bool, len(docs))
	for _, t := range docs {
		set[t.ID()] = true
	}
	return set
}
