package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/dutydesk/internal/couch"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newService(store couch.Store, now func() time.Time) *Service {
	return New(Config{
		Store:    store,
		TicketDB: "so",
		EventsDB: "events",
		BaseURL:  "https://duty.example.com",
		Secrets:  []string{"sekrit"},
		Now:      now,
	})
}

func slackPayload() map[string]string {
	return map[string]string{
		"token":       "sekrit",
		"team_id":     "T123",
		"team_domain": "example",
		"user_id":     "U1",
		"user_name":   "ana",
		"command":     "/duty",
	}
}

// issue runs Issue and returns the token id parsed out of the login URL.
func issue(t *testing.T, s *Service, payload map[string]string) string {
	t.Helper()
	url, err := s.Issue(context.Background(), payload)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	i := strings.Index(url, "?")
	if i < 0 {
		t.Fatalf("no token in url %q", url)
	}
	return url[i+1:]
}

func TestIssueRejectsBadSecret(t *testing.T) {
	s := newService(couch.NewMemory("so", "events"), nil)
	payload := slackPayload()
	payload["token"] = "guess"
	if _, err := s.Issue(context.Background(), payload); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	payload["token"] = ""
	if _, err := s.Issue(context.Background(), payload); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden for empty secret, got %v", err)
	}
}

func TestIssueStoresExpiringToken(t *testing.T) {
	store := couch.NewMemory("so", "events")
	s := newService(store, func() time.Time { return t0 })

	url, err := s.Issue(context.Background(), slackPayload())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(url, "https://duty.example.com/login.html?") {
		t.Fatalf("unexpected login url %q", url)
	}

	id := url[strings.Index(url, "?")+1:]
	doc, err := store.Get(context.Background(), "so", id)
	if err != nil {
		t.Fatalf("token doc: %v", err)
	}
	wantTS := float64(t0.Unix()) + 300
	if ts, _ := doc["ts"].(float64); ts != wantTS {
		t.Fatalf("want ts %v, got %v", wantTS, doc["ts"])
	}
	if doc["user_id"] != "U1" || doc["token"] != "sekrit" {
		t.Fatalf("payload not captured in token doc: %v", doc)
	}
}

func TestRedeemRoundTrip(t *testing.T) {
	store := couch.NewMemory("so", "events")
	s := newService(store, func() time.Time { return t0 })
	ctx := context.Background()

	id := issue(t, s, slackPayload())
	red, err := s.Redeem(ctx, id)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if red.Key == "" || red.Secret == "" {
		t.Fatal("want credentials")
	}
	if !store.VerifyCredentials(red.Key, red.Secret) {
		t.Fatal("issued credentials must verify against the store")
	}
	if red.StoreURL != store.URL() {
		t.Fatalf("want store url %q, got %q", store.URL(), red.StoreURL)
	}

	if couch.ID(red.User) != "U1" || red.User["type"] != "user" {
		t.Fatalf("unexpected user doc: %v", red.User)
	}
	for _, forbidden := range []string{"token", "ts"} {
		if _, ok := red.User[forbidden]; ok {
			t.Fatalf("%s must not leak into the user doc", forbidden)
		}
	}

	// single use: the token doc is gone
	if _, err := s.Redeem(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound on second redeem, got %v", err)
	}
}

func TestRedeemExpiry(t *testing.T) {
	store := couch.NewMemory("so", "events")
	now := t0
	s := newService(store, func() time.Time { return now })
	ctx := context.Background()

	// inside the window
	id := issue(t, s, slackPayload())
	now = t0.Add(299 * time.Second)
	if _, err := s.Redeem(ctx, id); err != nil {
		t.Fatalf("redeem at T+299 must work: %v", err)
	}

	// exactly at expiry still works, the check is strict
	now = t0
	id = issue(t, s, slackPayload())
	now = t0.Add(300 * time.Second)
	if _, err := s.Redeem(ctx, id); err != nil {
		t.Fatalf("redeem at T+300 must work: %v", err)
	}

	// past the window
	now = t0
	id = issue(t, s, slackPayload())
	now = t0.Add(301 * time.Second)
	if _, err := s.Redeem(ctx, id); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired at T+301, got %v", err)
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	s := newService(couch.NewMemory("so", "events"), nil)
	if _, err := s.Redeem(context.Background(), "never-issued"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRedeemPreservesExistingUserFields(t *testing.T) {
	store := couch.NewMemory("so", "events")
	s := newService(store, func() time.Time { return t0 })
	ctx := context.Background()

	if _, err := store.Put(ctx, "so", couch.Doc{"_id": "U1", "favorite_editor": "ed"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	id := issue(t, s, slackPayload())
	red, err := s.Redeem(ctx, id)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if red.User["favorite_editor"] != "ed" {
		t.Fatal("redeem must merge into the existing user doc, not replace it")
	}
	if red.User["user_name"] != "ana" {
		t.Fatal("payload fields must land on the user doc")
	}
}

func TestRedeemGrantsEventsAccess(t *testing.T) {
	store := couch.NewMemory("so", "events")
	s := newService(store, func() time.Time { return t0 })
	ctx := context.Background()

	red, err := s.Redeem(ctx, issue(t, s, slackPayload()))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	sec, err := store.GetSecurity(ctx, "events")
	if err != nil {
		t.Fatalf("security: %v", err)
	}
	caps := sec.Cloudant[red.Key]
	want := map[string]bool{couch.CapRead: true, couch.CapWrite: true, couch.CapReplicate: true}
	if len(caps) != len(want) {
		t.Fatalf("want %d capabilities, got %v", len(want), caps)
	}
	for _, c := range caps {
		if !want[c] {
			t.Fatalf("unexpected capability %q", c)
		}
	}
}

// conflictingStore injects write conflicts on the events permission doc.
type conflictingStore struct {
	*couch.Memory
	conflicts int
}

func (c *conflictingStore) PutSecurity(ctx context.Context, db string, sec couch.Security) error {
	if c.conflicts > 0 {
		c.conflicts--
		return couch.ErrConflict
	}
	return c.Memory.PutSecurity(ctx, db, sec)
}

func TestRedeemRetriesPermissionConflictOnce(t *testing.T) {
	store := &conflictingStore{Memory: couch.NewMemory("so", "events"), conflicts: 1}
	s := newService(store, func() time.Time { return t0 })

	if _, err := s.Redeem(context.Background(), issue(t, s, slackPayload())); err != nil {
		t.Fatalf("one conflict must be absorbed by the retry: %v", err)
	}
}

func TestRedeemGivesUpAfterSecondConflict(t *testing.T) {
	store := &conflictingStore{Memory: couch.NewMemory("so", "events"), conflicts: 2}
	s := newService(store, func() time.Time { return t0 })

	_, err := s.Redeem(context.Background(), issue(t, s, slackPayload()))
	if !errors.Is(err, ErrPermissionUpdate) {
		t.Fatalf("want ErrPermissionUpdate after repeated conflicts, got %v", err)
	}
}
