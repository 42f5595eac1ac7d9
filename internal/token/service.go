// Package token implements the login-token issuance and redemption
// protocol. A chat webhook exchanges a shared secret for a single-use,
// time-boxed token document; redeeming the token yields store credentials
// and a user identity.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/dutydesk/internal/couch"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
)

// TTL is how long an issued token stays redeemable. The boundary is
// checked at redemption time only: a token that expires mid-redemption
// still completes.
const TTL = 300 * time.Second

// Error taxonomy. The HTTP layer collapses all of these to generic
// 400/403 responses; the specific cause is only logged.
var (
	ErrForbidden        = errors.New("token: shared secret not accepted")
	ErrNotFound         = errors.New("token: not found")
	ErrExpired          = errors.New("token: expired")
	ErrPermissionUpdate = errors.New("token: permission document update failed")
)

// Service issues and redeems login tokens against the document store.
type Service struct {
	store    couch.Store
	ticketDB string
	eventsDB string
	baseURL  string
	secrets  map[string]struct{}
	now      func() time.Time
}

// Config wires a Service.
type Config struct {
	Store    couch.Store
	TicketDB string
	EventsDB string
	// BaseURL is the externally visible URL of this service, used to
	// build redemption links.
	BaseURL string
	// Secrets is the set of accepted shared secrets.
	Secrets []string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	secrets := make(map[string]struct{}, len(cfg.Secrets))
	for _, s := range cfg.Secrets {
		if s != "" {
			secrets[s] = struct{}{}
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		ticketDB: cfg.TicketDB,
		eventsDB: cfg.EventsDB,
		baseURL:  cfg.BaseURL,
		secrets:  secrets,
		now:      now,
	}
}

// Issue validates the webhook's shared secret and stores a token document
// holding the source payload. Returns the redemption URL for the user to
// visit.
func (s *Service) Issue(ctx context.Context, payload map[string]string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("token.Issue"))

	if _, ok := s.secrets[payload["token"]]; !ok {
		return "", ErrForbidden
	}

	doc := couch.Doc{}
	for k, v := range payload {
		doc[k] = v
	}
	doc["ts"] = float64(s.now().Unix()) + TTL.Seconds()

	if _, err := s.store.Put(ctx, s.ticketDB, doc); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	id := couch.ID(doc)
	log.Info("login token issued", logger.TokenID(id), logger.UserID(payload["user_id"]))
	return s.baseURL + "/login.html?" + id, nil
}

// Redemption is what a successful Redeem hands back to the client: where
// to replicate from, the fresh credentials, and the merged user document.
type Redemption struct {
	StoreURL string
	Key      string
	Secret   string
	User     couch.Doc
}

// Redeem exchanges a token id for store credentials and a user identity.
// The token is deleted before anything else happens, so redemption is
// strictly single-use: a second attempt with the same id fails with
// ErrNotFound. The flow is all-or-nothing from the caller's perspective,
// though the store offers no transactions across steps; a user created
// before a later step fails simply persists.
func (s *Service) Redeem(ctx context.Context, id string) (Redemption, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("token.Redeem"), logger.TokenID(id))

	doc, err := s.store.Get(ctx, s.ticketDB, id)
	if err != nil {
		if errors.Is(err, couch.ErrNotFound) {
			return Redemption{}, ErrNotFound
		}
		return Redemption{}, fmt.Errorf("fetch token: %w", err)
	}

	// Expiry is checked once, here. Not re-checked later in the flow.
	if ts, ok := doc["ts"].(float64); ok && ts < float64(s.now().Unix()) {
		return Redemption{}, ErrExpired
	}

	if err := s.store.Delete(ctx, s.ticketDB, id); err != nil {
		return Redemption{}, fmt.Errorf("delete token: %w", err)
	}

	userID, _ := doc["user_id"].(string)
	if userID == "" {
		return Redemption{}, fmt.Errorf("token %s has no user_id", id)
	}

	// Merge-create the user document; unrelated fields already on the
	// document stay intact.
	fields := couch.Doc{"type": "user"}
	for k, v := range doc {
		switch k {
		case "_id", "_rev", "token", "ts":
			continue
		}
		fields[k] = v
	}
	user, err := s.store.Merge(ctx, s.ticketDB, userID, fields)
	if err != nil {
		return Redemption{}, fmt.Errorf("merge user %s: %w", userID, err)
	}

	caps := []string{couch.CapRead, couch.CapWrite, couch.CapReplicate}
	creds, err := s.store.GenerateCredentials(ctx, s.ticketDB, caps)
	if err != nil {
		return Redemption{}, fmt.Errorf("generate credentials: %w", err)
	}

	if err := s.grantOnEvents(ctx, creds.Key, caps); err != nil {
		return Redemption{}, err
	}

	log.Info("token redeemed", logger.UserID(userID))
	return Redemption{
		StoreURL: s.store.URL(),
		Key:      creds.Key,
		Secret:   creds.Secret,
		User:     user,
	}, nil
}

// grantOnEvents adds the new credential key to the events database's
// permissions document. Two concurrent redemptions can race on this one
// document; a conflicting write is re-read and retried exactly once
// before surfacing ErrPermissionUpdate.
func (s *Service) grantOnEvents(ctx context.Context, key string, caps []string) error {
	const attempts = 2
	for i := 0; i < attempts; i++ {
		sec, err := s.store.GetSecurity(ctx, s.eventsDB)
		if err != nil {
			return fmt.Errorf("read events permissions: %w", err)
		}
		if sec.Cloudant == nil {
			sec.Cloudant = map[string][]string{}
		}
		sec.Cloudant[key] = append([]string(nil), caps...)

		err = s.store.PutSecurity(ctx, s.eventsDB, sec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, couch.ErrConflict) {
			return fmt.Errorf("write events permissions: %w", err)
		}
	}
	return ErrPermissionUpdate
}
