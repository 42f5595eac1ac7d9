package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Remote talks to a Cloudant/CouchDB-flavored store over HTTP.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a client for the store at baseURL. Credentials, when
// needed, are embedded in the URL userinfo the same way replication
// endpoints expect them.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Remote) URL() string { return r.baseURL }

// do performs one request and decodes the response body into out when
// the status is 2xx. 404 maps to ErrNotFound, 409 to ErrConflict, and
// transport-level failures to ErrTransport.
func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s %s", ErrConflict, method, path)
	case resp.StatusCode/100 != 2:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("couch: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type writeReply struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

func (r *Remote) Get(ctx context.Context, db, id string) (Doc, error) {
	var doc Doc
	if err := r.do(ctx, http.MethodGet, "/"+db+"/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Remote) Put(ctx context.Context, db string, doc Doc) (string, error) {
	var reply writeReply
	id := ID(doc)
	var err error
	if id == "" {
		err = r.do(ctx, http.MethodPost, "/"+db, doc, &reply)
	} else {
		err = r.do(ctx, http.MethodPut, "/"+db+"/"+url.PathEscape(id), doc, &reply)
	}
	if err != nil {
		return "", err
	}
	doc["_id"] = reply.ID
	return reply.Rev, nil
}

func (r *Remote) Delete(ctx context.Context, db, id string) error {
	doc, err := r.Get(ctx, db, id)
	if err != nil {
		return err
	}
	path := "/" + db + "/" + url.PathEscape(id) + "?rev=" + url.QueryEscape(Rev(doc))
	return r.do(ctx, http.MethodDelete, path, nil, nil)
}

// Merge read-modify-writes the document, retrying a couple of times when
// another writer got in between.
func (r *Remote) Merge(ctx context.Context, db, id string, fields Doc) (Doc, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		doc, err := r.Get(ctx, db, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			doc = Doc{"_id": id}
		}
		for k, v := range fields {
			if k == "_id" || k == "_rev" {
				continue
			}
			doc[k] = v
		}
		rev, err := r.Put(ctx, db, doc)
		if err == nil {
			doc["_rev"] = rev
			return doc, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

type viewReply struct {
	Rows []struct {
		ID    string `json:"id"`
		Key   any    `json:"key"`
		Value any    `json:"value"`
		Doc   Doc    `json:"doc"`
	} `json:"rows"`
}

func (r *Remote) Query(ctx context.Context, db, view string, opts QueryOptions) ([]Row, error) {
	q := url.Values{}
	if opts.IncludeDocs {
		q.Set("include_docs", "true")
	}
	if opts.Descending {
		q.Set("descending", "true")
	}
	if opts.Key != nil {
		raw, err := json.Marshal(opts.Key)
		if err != nil {
			return nil, err
		}
		q.Set("key", string(raw))
	}
	path := "/" + db + "/_design/dutydesk/_view/" + view
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var reply viewReply
	if err := r.do(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(reply.Rows))
	for _, row := range reply.Rows {
		rows = append(rows, Row{ID: row.ID, Key: row.Key, Value: row.Value, Doc: row.Doc})
	}
	return rows, nil
}

func (r *Remote) Search(ctx context.Context, db, query string) ([]Doc, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("include_docs", "true")
	path := "/" + db + "/_design/dutydesk/_search/tickets?" + q.Encode()
	var reply struct {
		Rows []struct {
			Doc Doc `json:"doc"`
		} `json:"rows"`
	}
	if err := r.do(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return nil, err
	}
	docs := make([]Doc, 0, len(reply.Rows))
	for _, row := range reply.Rows {
		docs = append(docs, row.Doc)
	}
	return docs, nil
}

func (r *Remote) Info(ctx context.Context, db string) (Info, error) {
	var info Info
	if err := r.do(ctx, http.MethodGet, "/"+db, nil, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (r *Remote) GetSecurity(ctx context.Context, db string) (Security, error) {
	var sec Security
	if err := r.do(ctx, http.MethodGet, "/"+db+"/_security", nil, &sec); err != nil {
		return Security{}, err
	}
	if sec.Cloudant == nil {
		sec.Cloudant = map[string][]string{}
	}
	return sec, nil
}

func (r *Remote) PutSecurity(ctx context.Context, db string, sec Security) error {
	return r.do(ctx, http.MethodPut, "/"+db+"/_security", sec, nil)
}

func (r *Remote) GenerateCredentials(ctx context.Context, db string, caps []string) (Credentials, error) {
	var creds Credentials
	if err := r.do(ctx, http.MethodPost, "/_api/v2/api_keys", nil, &creds); err != nil {
		return Credentials{}, err
	}
	// grant the new key on the database it was generated for
	sec, err := r.GetSecurity(ctx, db)
	if err != nil {
		return Credentials{}, err
	}
	sec.Cloudant[creds.Key] = append([]string(nil), caps...)
	if err := r.PutSecurity(ctx, db, sec); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

type changesReply struct {
	Results []struct {
		ID      string `json:"id"`
		Seq     any    `json:"seq"`
		Deleted bool   `json:"deleted"`
		Doc     Doc    `json:"doc"`
	} `json:"results"`
	LastSeq any `json:"last_seq"`
}

func (r *Remote) Changes(ctx context.Context, db, since string) ([]Change, string, error) {
	q := url.Values{}
	q.Set("include_docs", "true")
	if since != "" {
		q.Set("since", since)
	}
	var reply changesReply
	if err := r.do(ctx, http.MethodGet, "/"+db+"/_changes?"+q.Encode(), nil, &reply); err != nil {
		return nil, since, err
	}
	changes := make([]Change, 0, len(reply.Results))
	for _, res := range reply.Results {
		changes = append(changes, Change{ID: res.ID, Deleted: res.Deleted, Doc: res.Doc})
	}
	return changes, seqToken(reply.LastSeq), nil
}

// seqToken renders a sequence value back to its wire form; Cloudant uses
// opaque strings, CouchDB 1.x plain integers.
func seqToken(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return fmt.Sprintf("%.0f", vv)
	default:
		return ""
	}
}
