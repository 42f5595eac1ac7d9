package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	"github.com/dropDatabas3/dutydesk/internal/ticket"
	"github.com/dropDatabas3/dutydesk/internal/util/atomicwrite"
)

// session is what a successful login leaves behind: where the store
// lives, the credentials to reach it, and who we are.
type session struct {
	Server   string    `json:"server"`
	StoreURL string    `json:"store_url"`
	Key      string    `json:"key"`
	Secret   string    `json:"secret"`
	User     couch.Doc `json:"user"`
}

var errNotLoggedIn = errors.New("not logged in, run: dutyctl login <url>")

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dutydesk-session.json"
	}
	return filepath.Join(home, ".dutydesk", "session.json")
}

func (a *app) loadSession() (*session, error) {
	raw, err := os.ReadFile(a.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotLoggedIn
		}
		return nil, err
	}
	var s session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", a.sessionPath, err)
	}
	if s.Key == "" || s.StoreURL == "" {
		return nil, errNotLoggedIn
	}
	return &s, nil
}

func (a *app) saveSession(s *session) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	// credentials live in here, keep it private
	return atomicwrite.WriteFile(a.sessionPath, raw, 0o600)
}

func (a *app) clearSession() error {
	err := os.Remove(a.sessionPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// store builds a remote client with the session credentials embedded in
// the URL userinfo, the way replication endpoints take them.
func (s *session) store() (*couch.Remote, error) {
	u, err := url.Parse(s.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("bad store url in session: %w", err)
	}
	u.User = url.UserPassword(s.Key, s.Secret)
	return couch.NewRemote(u.String()), nil
}

func (s *session) me() ticket.User {
	id, _ := s.User["user_id"].(string)
	if id == "" {
		id, _ = s.User["_id"].(string)
	}
	name, _ := s.User["user_name"].(string)
	return ticket.User{ID: id, Name: name}
}

// engine is the common setup for every ticket-touching subcommand.
func (a *app) engine() (*ticket.Engine, *session, error) {
	s, err := a.loadSession()
	if err != nil {
		return nil, nil, err
	}
	store, err := s.store()
	if err != nil {
		return nil, nil, err
	}
	return ticket.NewEngine(store, a.db, nil), s, nil
}
