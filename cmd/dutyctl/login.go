package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/dutydesk/internal/couch"
)

// redemption mirrors the server's /redeem response body.
type redemption struct {
	URL      string    `json:"url"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	OK       bool      `json:"ok"`
	User     couch.Doc `json:"user"`
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <login-url>",
		Short: "Redeem a login link from the duty channel",
		Long: "Redeem the single-use login link the bot posted in the duty\n" +
			"channel. Links expire five minutes after issue and work once.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, id, err := splitLoginURL(args[0])
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Post(server+"/redeem/"+id, "application/json", nil)
			if err != nil {
				return fmt.Errorf("redeem: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("redeem failed (%s): the link may be expired or already used", resp.Status)
			}

			var red redemption
			if err := json.NewDecoder(resp.Body).Decode(&red); err != nil {
				return fmt.Errorf("decode redemption: %w", err)
			}
			if !red.OK {
				return fmt.Errorf("redeem refused")
			}

			s := &session{
				Server:   server,
				StoreURL: red.URL,
				Key:      red.Username,
				Secret:   red.Password,
				User:     red.User,
			}
			if err := a.saveSession(s); err != nil {
				return err
			}

			me := s.me()
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome to duty, %s.\n", displayName(me.Name, me.ID))
			return nil
		},
	}
}

// splitLoginURL takes the link the bot posts
// (https://host/login.html?TOKEN) apart: everything before the query is
// the server, the query string is the token id.
func splitLoginURL(raw string) (server, id string, err error) {
	i := strings.Index(raw, "?")
	if i < 0 {
		return "", "", fmt.Errorf("expected a login link of the form https://host/login.html?<token>")
	}
	id = raw[i+1:]
	server = strings.TrimSuffix(raw[:i], "/login.html")
	server = strings.TrimRight(server, "/")
	if server == "" || id == "" {
		return "", "", fmt.Errorf("expected a login link of the form https://host/login.html?<token>")
	}
	return server, id, nil
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the local session and its credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.clearSession(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func (a *app) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession()
			if err != nil {
				return err
			}
			me := s.me()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:   %s\n", displayName(me.Name, me.ID))
			fmt.Fprintf(out, "id:     %s\n", me.ID)
			if team, ok := s.User["team_domain"].(string); ok && team != "" {
				fmt.Fprintf(out, "team:   %s\n", team)
			}
			if soID, ok := s.User["so_id"].(string); ok && soID != "" {
				fmt.Fprintf(out, "so_id:  %s\n", soID)
			}
			fmt.Fprintf(out, "server: %s\n", s.Server)
			fmt.Fprintf(out, "store:  %s\n", s.StoreURL)
			return nil
		},
	}
	cmd.AddCommand(a.profileSetCmd())
	return cmd
}

// profileSetCmd writes a profile field (so_id, email, ...) onto the user
// document. Merge semantics: everything else on the doc stays put.
func (a *app) profileSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set a profile field on your user document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession()
			if err != nil {
				return err
			}
			field := args[0]
			if strings.HasPrefix(field, "_") || field == "type" || field == "user_id" {
				return fmt.Errorf("field %q is not editable", field)
			}
			store, err := s.store()
			if err != nil {
				return err
			}
			user, err := store.Merge(cmd.Context(), a.db, s.me().ID, couch.Doc{field: args[1]})
			if err != nil {
				return err
			}
			s.User = user
			if err := a.saveSession(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", field, args[1])
			return nil
		},
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
