package couch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Memory is an in-process revision-tracked store. It serves two roles:
// the local replica held by the dashboard client, and the store fake in
// tests. Semantics mirror the remote store: optimistic concurrency on
// writes, merge-on-update, a change feed, per-database permissions.
type Memory struct {
	url string

	mu    sync.RWMutex
	dbs   map[string]*memDB
	creds map[string]memCredential
}

type memDB struct {
	docs    map[string]Doc
	seq     uint64
	changes []Change
	sec     Security
	secSeq  int
}

type memCredential struct {
	secretHash []byte
	caps       map[string][]string // db -> capability set
}

// NewMemory creates a store with the given databases.
func NewMemory(dbs ...string) *Memory {
	m := &Memory{
		url:   "memory://local",
		dbs:   make(map[string]*memDB),
		creds: make(map[string]memCredential),
	}
	for _, name := range dbs {
		m.dbs[name] = &memDB{
			docs: make(map[string]Doc),
			sec:  Security{Cloudant: map[string][]string{}},
		}
	}
	return m
}

func (m *Memory) URL() string { return m.url }

func (m *Memory) db(name string) (*memDB, error) {
	d, ok := m.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%w: database %q", ErrNotFound, name)
	}
	return d, nil
}

// copyDoc deep-copies a document through JSON, normalizing values the
// same way the wire does.
func copyDoc(doc Doc) Doc {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var out Doc
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (m *Memory) Get(ctx context.Context, db, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.db(db)
	if err != nil {
		return nil, err
	}
	doc, ok := d.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, db, id)
	}
	return copyDoc(doc), nil
}

func (m *Memory) Put(ctx context.Context, db string, doc Doc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(db)
	if err != nil {
		return "", err
	}
	return d.put(doc)
}

func (d *memDB) put(doc Doc) (string, error) {
	doc = copyDoc(doc)
	id := ID(doc)
	if id == "" {
		id = newDocID()
		doc["_id"] = id
	}
	existing, exists := d.docs[id]
	if exists && Rev(existing) != Rev(doc) {
		return "", fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if !exists && Rev(doc) != "" {
		return "", fmt.Errorf("%w: %s", ErrConflict, id)
	}
	rev := nextRev(Rev(existing))
	doc["_rev"] = rev
	d.store(id, doc, false)
	return rev, nil
}

// store saves the document verbatim and logs a change entry.
func (d *memDB) store(id string, doc Doc, deleted bool) {
	if deleted {
		delete(d.docs, id)
	} else {
		d.docs[id] = doc
	}
	d.seq++
	d.changes = append(d.changes, Change{
		ID:      id,
		Seq:     d.seq,
		Deleted: deleted,
		Doc:     copyDoc(doc),
	})
}

func (m *Memory) Delete(ctx context.Context, db, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(db)
	if err != nil {
		return err
	}
	if _, ok := d.docs[id]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, db, id)
	}
	d.store(id, Doc{"_id": id, "_deleted": true}, true)
	return nil
}

func (m *Memory) Merge(ctx context.Context, db, id string, fields Doc) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(db)
	if err != nil {
		return nil, err
	}
	doc, ok := d.docs[id]
	if !ok {
		doc = Doc{"_id": id}
	}
	doc = copyDoc(doc)
	for k, v := range fields {
		if k == "_id" || k == "_rev" {
			continue
		}
		doc[k] = v
	}
	if _, err := d.put(doc); err != nil {
		return nil, err
	}
	return copyDoc(d.docs[id]), nil
}

func (m *Memory) Query(ctx context.Context, db, view string, opts QueryOptions) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.db(db)
	if err != nil {
		return nil, err
	}
	switch view {
	case ViewUnassigned:
		return d.queryUnassigned(opts), nil
	case ViewByOwner:
		return d.queryByOwner(opts), nil
	case ViewUsers:
		return d.queryUsers(opts), nil
	case ViewCustomTags:
		return d.queryCustomTags(), nil
	default:
		return nil, fmt.Errorf("%w: view %q", ErrNotFound, view)
	}
}

func (d *memDB) queryUnassigned(opts QueryOptions) []Row {
	var rows []Row
	for id, doc := range d.docs {
		if !isTicket(doc) || boolField(doc, "rejected") || boolField(doc, "answered") {
			continue
		}
		if owner, ok := doc["owner"]; !ok || owner != nil {
			continue
		}
		rows = append(rows, Row{ID: id, Key: creationDate(doc), Doc: copyDoc(doc)})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, _ := rows[i].Key.(float64)
		b, _ := rows[j].Key.(float64)
		if opts.Descending {
			return a > b
		}
		return a < b
	})
	return rows
}

func (d *memDB) queryByOwner(opts QueryOptions) []Row {
	var rows []Row
	for id, doc := range d.docs {
		if !isTicket(doc) || boolField(doc, "rejected") || boolField(doc, "answered") {
			continue
		}
		owner, _ := doc["owner"].(string)
		if owner == "" {
			continue
		}
		if opts.Key != nil && opts.Key != any(owner) {
			continue
		}
		rows = append(rows, Row{ID: id, Key: owner, Doc: copyDoc(doc)})
	}
	return rows
}

func (d *memDB) queryUsers(opts QueryOptions) []Row {
	var rows []Row
	for id, doc := range d.docs {
		if t, _ := doc["type"].(string); t != "user" {
			continue
		}
		name, _ := doc["user_name"].(string)
		rows = append(rows, Row{ID: id, Key: name, Doc: copyDoc(doc)})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func (d *memDB) queryCustomTags() []Row {
	seen := map[string]bool{}
	for _, doc := range d.docs {
		for _, t := range stringSlice(doc["custom_tags"]) {
			seen[t] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return []Row{{Value: tags}}
}

func (m *Memory) Search(ctx context.Context, db, query string) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.db(db)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var out []Doc
	for _, doc := range d.docs {
		if !isTicket(doc) {
			continue
		}
		if ticketMatches(doc, q) {
			out = append(out, copyDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return ID(out[i]) < ID(out[j]) })
	return out, nil
}

func ticketMatches(doc Doc, q string) bool {
	question, _ := doc["question"].(map[string]any)
	if question == nil {
		return false
	}
	if title, _ := question["title"].(string); strings.Contains(strings.ToLower(title), q) {
		return true
	}
	for _, tag := range stringSlice(question["tags"]) {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func (m *Memory) Info(ctx context.Context, db string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.db(db)
	if err != nil {
		return Info{}, err
	}
	return Info{DocCount: len(d.docs)}, nil
}

func (m *Memory) GetSecurity(ctx context.Context, db string) (Security, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.db(db)
	if err != nil {
		return Security{}, err
	}
	sec := Security{Rev: d.sec.Rev, Cloudant: map[string][]string{}}
	for k, v := range d.sec.Cloudant {
		sec.Cloudant[k] = append([]string(nil), v...)
	}
	return sec, nil
}

func (m *Memory) PutSecurity(ctx context.Context, db string, sec Security) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(db)
	if err != nil {
		return err
	}
	if sec.Rev != d.sec.Rev {
		return fmt.Errorf("%w: _security on %s", ErrConflict, db)
	}
	d.secSeq++
	stored := Security{Rev: strconv.Itoa(d.secSeq), Cloudant: map[string][]string{}}
	for k, v := range sec.Cloudant {
		stored.Cloudant[k] = append([]string(nil), v...)
	}
	d.sec = stored
	return nil
}

func (m *Memory) GenerateCredentials(ctx context.Context, db string, caps []string) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(db)
	if err != nil {
		return Credentials{}, err
	}
	key := "apikey-" + randHex(8)
	secret, err := randSecret()
	if err != nil {
		return Credentials{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return Credentials{}, err
	}
	m.creds[key] = memCredential{
		secretHash: hash,
		caps:       map[string][]string{db: append([]string(nil), caps...)},
	}
	d.sec.Cloudant[key] = append([]string(nil), caps...)
	return Credentials{Key: key, Secret: secret}, nil
}

// VerifyCredentials checks a key/secret pair against the stored hash.
func (m *Memory) VerifyCredentials(key, secret string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[key]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.secretHash, []byte(secret)) == nil
}

func (m *Memory) Changes(ctx context.Context, db, since string) ([]Change, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.db(db)
	if err != nil {
		return nil, since, err
	}
	var from uint64
	if since != "" {
		from, _ = strconv.ParseUint(since, 10, 64)
	}
	var out []Change
	for _, c := range d.changes {
		if c.Seq > from {
			out = append(out, c)
		}
	}
	return out, strconv.FormatUint(d.seq, 10), nil
}

// Apply writes a replicated document verbatim, keeping the incoming
// revision. Replication bypasses the optimistic check: the last write to
// reach the store wins per document.
func (m *Memory) Apply(db string, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.db(db)
	if err != nil {
		return err
	}
	d.store(change.ID, copyDoc(change.Doc), change.Deleted)
	return nil
}

// Destroy drops every database. Logout tears the replica down entirely.
func (m *Memory) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.dbs {
		m.dbs[name] = &memDB{
			docs: make(map[string]Doc),
			sec:  Security{Cloudant: map[string][]string{}},
		}
	}
}

// ─── field helpers ───

func isTicket(doc Doc) bool {
	_, ok := doc["question"].(map[string]any)
	return ok
}

func boolField(doc Doc, name string) bool {
	b, _ := doc[name].(bool)
	return b
}

func creationDate(doc Doc) float64 {
	question, _ := doc["question"].(map[string]any)
	if question == nil {
		return 0
	}
	f, _ := question["creation_date"].(float64)
	return f
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func newDocID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func nextRev(prev string) string {
	n := 0
	if prev != "" {
		if i := strings.IndexByte(prev, '-'); i > 0 {
			n, _ = strconv.Atoi(prev[:i])
		}
	}
	return fmt.Sprintf("%d-%s", n+1, randHex(8))
}

func randHex(n int) string {
	raw := make([]byte, n)
	_, _ = rand.Read(raw)
	return hex.EncodeToString(raw)
}

func randSecret() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
