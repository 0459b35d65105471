package registrar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cfRecord struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Content  string  `json:"content"`
	TTL      float64 `json:"ttl"`
	Priority float64 `json:"priority,omitempty"`
}

// fakeCloudflare serves the subset of the zone DNS API the client uses.
type fakeCloudflare struct {
	mu      sync.Mutex
	zone    string
	records []cfRecord
	nextID  int
	deleted []string
	edited  map[string]cfRecord
	authz   string
}

func newFakeCloudflare(t *testing.T, zone string, records ...cfRecord) (*fakeCloudflare, *httptest.Server) {
	t.Helper()
	f := &fakeCloudflare{zone: zone, records: records, edited: map[string]cfRecord{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCloudflare) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authz = r.Header.Get("Authorization")

	prefix := "/zones/" + f.zone + "/dns_records"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeCF(w, http.StatusNotFound, nil, "zone not found")
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case r.Method == http.MethodGet && id == "":
		if page := r.URL.Query().Get("page"); page != "" && page != "1" {
			writeCFList(w, nil)
			return
		}
		kind := r.URL.Query().Get("type")
		var out []cfRecord
		for _, rec := range f.records {
			if kind == "" || rec.Type == kind {
				out = append(out, rec)
			}
		}
		writeCFList(w, out)
	case r.Method == http.MethodPost && id == "":
		var rec cfRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		f.nextID++
		rec.ID = "rec-new-" + string(rune('0'+f.nextID))
		f.records = append(f.records, rec)
		writeCF(w, http.StatusOK, rec, "")
	case r.Method == http.MethodDelete && id != "":
		for i, rec := range f.records {
			if rec.ID == id {
				f.records = append(f.records[:i], f.records[i+1:]...)
				f.deleted = append(f.deleted, id)
				writeCF(w, http.StatusOK, map[string]string{"id": id}, "")
				return
			}
		}
		writeCF(w, http.StatusNotFound, nil, "Record not found")
	case r.Method == http.MethodPatch && id != "":
		var rec cfRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		rec.ID = id
		f.edited[id] = rec
		writeCF(w, http.StatusOK, rec, "")
	default:
		writeCF(w, http.StatusMethodNotAllowed, nil, "method not allowed")
	}
}

func writeCF(w http.ResponseWriter, status int, result any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": errMsg == "", "errors": []any{}, "messages": []any{}, "result": result}
	if errMsg != "" {
		body["errors"] = []map[string]any{{"code": 81044, "message": errMsg}}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeCFList(w http.ResponseWriter, records []cfRecord) {
	if records == nil {
		records = []cfRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   records,
		"result_info": map[string]int{
			"page": 1, "per_page": 100, "count": len(records), "total_count": len(records), "total_pages": 1,
		},
	})
}

func cloudflareTestClient(srv *httptest.Server, zone string) *CloudflareClient {
	return NewCloudflareClient(
		&CloudflareCredentials{APIToken: "cf-token", ZoneID: zone},
		"example.com",
		Options{HTTPClient: srv.Client(), CloudflareBaseURL: srv.URL},
	)
}

func TestCloudflare_ListRecords(t *testing.T) {
	f, srv := newFakeCloudflare(t, "zone1",
		cfRecord{ID: "r1", Type: "A", Name: "blog.example.com", Content: "1.2.3.4", TTL: 300},
		cfRecord{ID: "r2", Type: "TXT", Name: "_sublease-challenge.example.com", Content: "tok", TTL: 1},
	)
	c := cloudflareTestClient(srv, "zone1")

	all, err := c.ListRecords(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Bearer cf-token", f.authz)
	assert.Equal(t, Record{ID: "r1", Type: TypeA, Name: "blog.example.com", Value: "1.2.3.4", TTL: 300}, all[0])

	txt, err := c.ListRecords(context.Background(), TypeTXT)
	require.NoError(t, err)
	require.Len(t, txt, 1)
	assert.Equal(t, "r2", txt[0].ID)
}

func TestCloudflare_CreateAndDelete(t *testing.T) {
	f, srv := newFakeCloudflare(t, "zone1")
	c := cloudflareTestClient(srv, "zone1")

	id, err := c.CreateRecord(context.Background(), RecordInput{Type: TypeA, Name: "Blog.Example.com.", Value: "5.6.7.8"})
	require.NoError(t, err)
	assert.Equal(t, "rec-new-1", id)
	require.Len(t, f.records, 1)
	assert.Equal(t, "blog.example.com", f.records[0].Name)
	assert.Equal(t, float64(DefaultTTL), f.records[0].TTL)

	require.NoError(t, c.DeleteRecord(context.Background(), id))
	assert.Equal(t, []string{id}, f.deleted)
	assert.Empty(t, f.records)
}

func TestCloudflare_DeleteMissingReturnsError(t *testing.T) {
	_, srv := newFakeCloudflare(t, "zone1")
	c := cloudflareTestClient(srv, "zone1")

	err := c.DeleteRecord(context.Background(), "nope")
	assert.Error(t, err)
}

func TestCloudflare_UpdateRecordMergesPatch(t *testing.T) {
	f, srv := newFakeCloudflare(t, "zone1",
		cfRecord{ID: "r1", Type: "CNAME", Name: "shop.example.com", Content: "old.host.net", TTL: 600},
	)
	c := cloudflareTestClient(srv, "zone1")

	value := "new.host.net"
	require.NoError(t, c.UpdateRecord(context.Background(), "r1", RecordPatch{Value: &value}))

	edited, ok := f.edited["r1"]
	require.True(t, ok)
	assert.Equal(t, "new.host.net", edited.Content)
	assert.Equal(t, "shop.example.com", edited.Name)
	assert.Equal(t, "CNAME", edited.Type)
	assert.Equal(t, float64(600), edited.TTL)
}

func TestCloudflare_UpdateMXKeepsPriority(t *testing.T) {
	f, srv := newFakeCloudflare(t, "zone1",
		cfRecord{ID: "r1", Type: "MX", Name: "mail.example.com", Content: "mx1.host.net", TTL: 300, Priority: 10},
	)
	c := cloudflareTestClient(srv, "zone1")

	records, err := c.ListRecords(context.Background(), TypeMX)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 10, records[0].Priority)

	value := "mx2.host.net"
	require.NoError(t, c.UpdateRecord(context.Background(), "r1", RecordPatch{Value: &value}))

	edited, ok := f.edited["r1"]
	require.True(t, ok)
	assert.Equal(t, "mx2.host.net", edited.Content)
	assert.Equal(t, float64(10), edited.Priority)
}

func TestCloudflare_UpdateUnknownRecord(t *testing.T) {
	_, srv := newFakeCloudflare(t, "zone1")
	c := cloudflareTestClient(srv, "zone1")

	value := "x"
	err := c.UpdateRecord(context.Background(), "missing", RecordPatch{Value: &value})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCloudflare_VerifyOwnership(t *testing.T) {
	_, srv := newFakeCloudflare(t, "zone1",
		cfRecord{ID: "r1", Type: "TXT", Name: "_sublease-challenge.example.com", Content: `"abc123"`, TTL: 1},
	)
	c := cloudflareTestClient(srv, "zone1")

	v, err := c.VerifyOwnership(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, v.Verified)

	v, err = c.VerifyOwnership(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Contains(t, v.Message, "_sublease-challenge.example.com")
	assert.Contains(t, v.Message, "other")
}

func TestCloudflare_ListErrorPropagates(t *testing.T) {
	_, srv := newFakeCloudflare(t, "zone1")
	c := cloudflareTestClient(srv, "wrong-zone")

	_, err := c.ListRecords(context.Background(), "")
	assert.Error(t, err)

	_, err = c.VerifyOwnership(context.Background(), "tok")
	assert.Error(t, err)
}
