package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	"github.com/dropDatabas3/dutydesk/internal/notify"
	"github.com/dropDatabas3/dutydesk/internal/ticket"
	"github.com/dropDatabas3/dutydesk/internal/util"
)

func (a *app) unassignedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unassigned",
		Short: "List tickets nobody has claimed yet, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.engine()
			if err != nil {
				return err
			}
			docs, err := eng.LoadUnassigned(cmd.Context())
			if err != nil {
				return err
			}
			printTickets(cmd.OutOrStdout(), docs)
			return nil
		},
	}
}

func (a *app) mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List tickets assigned to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, s, err := a.engine()
			if err != nil {
				return err
			}
			docs, err := eng.LoadMine(cmd.Context(), s.me().ID)
			if err != nil {
				return err
			}
			printTickets(cmd.OutOrStdout(), docs)
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search tickets by title and tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.engine()
			if err != nil {
				return err
			}
			docs, err := eng.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printTickets(cmd.OutOrStdout(), docs)
			return nil
		},
	}
}

func (a *app) assignCmd() *cobra.Command {
	var owner string
	var doNotify bool
	cmd := &cobra.Command{
		Use:   "assign <ticket-id>",
		Short: "Claim a ticket, or hand it to someone else with --to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, s, err := a.engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			t, err := eng.Load(ctx, args[0])
			if err != nil {
				return err
			}
			res := eng.Assign(ctx, t, s.me(), owner)
			if err := reportWrite(cmd.OutOrStdout(), "assigned", t, res); err != nil {
				return err
			}
			if doNotify && owner != "" && owner != s.me().ID {
				a.notifyOwner(ctx, cmd.ErrOrStderr(), s, t, owner)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "to", "", "assign to this user id instead of yourself")
	cmd.Flags().BoolVar(&doNotify, "notify", false, "email the new owner (needs SMTP_* in the environment)")
	return cmd
}

// notifyOwner emails the delegate when their user document carries an
// email address. Best effort: a send failure never fails the assignment.
func (a *app) notifyOwner(ctx context.Context, errOut io.Writer, s *session, t *ticket.Ticket, owner string) {
	store, err := s.store()
	if err != nil {
		return
	}
	rows, err := store.Query(ctx, a.db, couch.ViewUsers, couch.QueryOptions{Key: owner, IncludeDocs: true})
	if err != nil || len(rows) == 0 {
		fmt.Fprintf(errOut, "notify: no directory entry for %s\n", owner)
		return
	}
	email, _ := rows[0].Doc["email"].(string)
	if email == "" {
		fmt.Fprintf(errOut, "notify: %s has no email on file\n", owner)
		return
	}

	sender := senderFromEnv()
	subject := "Ticket assigned to you: " + t.Title()
	body := fmt.Sprintf("%s assigned you a ticket.\n\n%s\nid: %s\n", s.me().Name, t.Title(), t.ID())
	if err := sender.Send(email, subject, body); err != nil {
		fmt.Fprintf(errOut, "notify: %v\n", err)
		return
	}
	fmt.Fprintf(errOut, "notified %s\n", util.MaskEmail(email))
}

func senderFromEnv() notify.Sender {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return notify.Noop{}
	}
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587
	}
	return notify.NewSMTPSender(host, port,
		os.Getenv("SMTP_FROM"), os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"))
}

func (a *app) rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <ticket-id>",
		Short: "Mark a ticket as not answerable by the team",
		Args:  cobra.ExactArgs(1),
		RunE:  a.dispositionRunE("rejected", (*ticket.Engine).Reject),
	}
}

func (a *app) answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <ticket-id>",
		Short: "Mark a ticket as answered",
		Args:  cobra.ExactArgs(1),
		RunE:  a.dispositionRunE("answered", (*ticket.Engine).Answer),
	}
}

func (a *app) dispositionRunE(verb string, op func(*ticket.Engine, context.Context, *ticket.Ticket, ticket.User) ticket.WriteResult) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, s, err := a.engine()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		t, err := eng.Load(ctx, args[0])
		if err != nil {
			return err
		}
		return reportWrite(cmd.OutOrStdout(), verb, t, op(eng, ctx, t, s.me()))
	}
}

func (a *app) noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <ticket-id> <text...>",
		Short: "Append a note to a ticket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, s, err := a.engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			t, err := eng.Load(ctx, args[0])
			if err != nil {
				return err
			}
			res := eng.AddNote(ctx, t, strings.Join(args[1:], " "), s.me())
			return reportWrite(cmd.OutOrStdout(), "noted", t, res)
		},
	}
}

func reportWrite(out io.Writer, verb string, t *ticket.Ticket, res ticket.WriteResult) error {
	switch res.Status {
	case ticket.WriteOK:
		fmt.Fprintf(out, "%s %s\n", t.ID(), verb)
		return nil
	case ticket.WriteConflict:
		return fmt.Errorf("%s changed under you, re-run the command", t.ID())
	default:
		if res.Err != nil {
			return res.Err
		}
		return errors.New("write failed")
	}
}

func printTickets(out io.Writer, docs []*ticket.Ticket) {
	if len(docs) == 0 {
		fmt.Fprintln(out, "no tickets")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGE\tSTATE\tTAGS\tTITLE")
	for _, t := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID(), age(t.CreationDate()), stateOf(t),
			strings.Join(t.Tags(), ","), t.Title())
	}
	w.Flush()
}

func stateOf(t *ticket.Ticket) string {
	switch {
	case t.Answered():
		return "answered"
	case t.Rejected():
		return "rejected"
	default:
		if owner, ok := t.Owner(); ok && owner != "" {
			return "claimed:" + owner
		}
		return "open"
	}
}

func age(creation float64) string {
	if creation == 0 {
		return "-"
	}
	d := time.Since(time.Unix(int64(creation), 0))
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
