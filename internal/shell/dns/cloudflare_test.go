package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudflareRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// fakeCloudflare serves the subset of the v4 API the provisioner uses.
type fakeCloudflare struct {
	mu      sync.Mutex
	token   string
	zone    string
	records map[string]fakeCloudflareRecord
	nextID  int

	// vanishOnDelete answers deletes with 404, as if another client won.
	vanishOnDelete bool
}

func newFakeCloudflare(token, zone string) *fakeCloudflare {
	return &fakeCloudflare{token: token, zone: zone, records: map[string]fakeCloudflareRecord{}}
}

func (f *fakeCloudflare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("Authorization") != "Bearer "+f.token {
		f.fail(w, http.StatusForbidden, 10000, "Authentication error")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "zones" || parts[1] != f.zone {
		f.fail(w, http.StatusNotFound, 7003, "Could not route to /zones, perhaps your object identifier is invalid?")
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		f.reply(w, map[string]string{"id": f.zone, "name": "example.org"}, nil)

	case len(parts) == 3 && r.Method == http.MethodGet:
		out := []fakeCloudflareRecord{}
		for _, rec := range f.records {
			if rec.Type == r.URL.Query().Get("type") && rec.Name == r.URL.Query().Get("name") {
				out = append(out, rec)
			}
		}
		f.reply(w, out, map[string]int{"page": 1, "per_page": 100, "count": len(out), "total_count": len(out), "total_pages": 1})

	case len(parts) == 3 && r.Method == http.MethodPost:
		var rec fakeCloudflareRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			f.fail(w, http.StatusBadRequest, 9207, "Request body is invalid")
			return
		}
		for _, existing := range f.records {
			if existing.Name == rec.Name {
				f.fail(w, http.StatusBadRequest, 81053, "An A, AAAA, or CNAME record with that host already exists.")
				return
			}
		}
		f.nextID++
		rec.ID = fmt.Sprintf("rec-%d", f.nextID)
		f.records[rec.ID] = rec
		f.reply(w, rec, nil)

	case len(parts) == 4 && r.Method == http.MethodDelete:
		if _, ok := f.records[parts[3]]; !ok || f.vanishOnDelete {
			delete(f.records, parts[3])
			f.fail(w, http.StatusNotFound, 81044, "Record does not exist.")
			return
		}
		delete(f.records, parts[3])
		f.reply(w, map[string]string{"id": parts[3]}, nil)

	default:
		f.fail(w, http.StatusMethodNotAllowed, 10000, "Method not allowed")
	}
}

func (f *fakeCloudflare) reply(w http.ResponseWriter, result any, info any) {
	body := map[string]any{"success": true, "errors": []any{}, "messages": []any{}, "result": result}
	if info != nil {
		body["result_info"] = info
	}
	json.NewEncoder(w).Encode(body)
}

func (f *fakeCloudflare) fail(w http.ResponseWriter, status, code int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  false,
		"errors":   []map[string]any{{"code": code, "message": msg}},
		"messages": []any{},
		"result":   nil,
	})
}

func (f *fakeCloudflare) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func newTestCloudflare(t *testing.T, token string) (*CloudflareProvisioner, *fakeCloudflare) {
	t.Helper()
	fake := newFakeCloudflare("good-token", "zone-1")
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p, err := NewCloudflareProvisioner(
		Credentials{ZoneID: "zone-1", APIToken: token},
		buildOptions([]Option{WithBaseURL(server.URL)}),
		slog.Default(),
	)
	require.NoError(t, err)
	return p, fake
}

func TestCloudflare_RecordLifecycle(t *testing.T) {
	p, fake := newTestCloudflare(t, "good-token")
	ctx := context.Background()

	available, err := p.IsAvailable(ctx, "alice", "example.org", "")
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, p.CreateRecord(ctx, "alice", "example.org", "owner.github.io", ""))
	assert.Equal(t, 1, fake.count())

	rec := fake.records["rec-1"]
	assert.Equal(t, "CNAME", rec.Type)
	assert.Equal(t, "alice.example.org", rec.Name)
	assert.Equal(t, "owner.github.io", rec.Content)
	assert.Equal(t, 300, rec.TTL)
	assert.False(t, rec.Proxied)

	available, err = p.IsAvailable(ctx, "alice", "example.org", "zone-1")
	require.NoError(t, err)
	assert.False(t, available)

	require.NoError(t, p.DeleteRecord(ctx, "alice", "example.org", ""))
	assert.Equal(t, 0, fake.count())
}

func TestCloudflare_OnlyExactNameMatches(t *testing.T) {
	p, fake := newTestCloudflare(t, "good-token")
	ctx := context.Background()

	fake.records["other"] = fakeCloudflareRecord{ID: "other", Type: "TXT", Name: "alice.example.org", Content: "v=spf1"}

	available, err := p.IsAvailable(ctx, "alice", "example.org", "")
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, p.DeleteRecord(ctx, "alice", "example.org", ""))
	assert.Contains(t, fake.records, "other")
}

func TestCloudflare_CreateDuplicateFails(t *testing.T) {
	p, _ := newTestCloudflare(t, "good-token")
	ctx := context.Background()

	require.NoError(t, p.CreateRecord(ctx, "alice", "example.org", "owner.github.io", ""))
	err := p.CreateRecord(ctx, "alice", "example.org", "owner.github.io", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCloudflare_DeleteMissingIsSuccess(t *testing.T) {
	p, _ := newTestCloudflare(t, "good-token")
	assert.NoError(t, p.DeleteRecord(context.Background(), "ghost", "example.org", ""))
}

func TestCloudflare_DeleteRecordGoneMeanwhileIsSuccess(t *testing.T) {
	p, fake := newTestCloudflare(t, "good-token")
	ctx := context.Background()

	require.NoError(t, p.CreateRecord(ctx, "alice", "example.org", "owner.github.io", ""))
	fake.vanishOnDelete = true

	assert.NoError(t, p.DeleteRecord(ctx, "alice", "example.org", ""))
	assert.Equal(t, 0, fake.count())
}

func TestCloudflare_VerifyZone(t *testing.T) {
	p, _ := newTestCloudflare(t, "good-token")
	ctx := context.Background()

	assert.NoError(t, p.VerifyZone(ctx, "zone-1"))
	assert.ErrorIs(t, p.VerifyZone(ctx, "zone-2"), ErrZoneNotFound)
}

func TestCloudflare_BadToken(t *testing.T) {
	p, _ := newTestCloudflare(t, "wrong-token")
	ctx := context.Background()

	assert.ErrorIs(t, p.VerifyZone(ctx, ""), ErrAuth)

	_, err := p.IsAvailable(ctx, "alice", "example.org", "")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestCloudflare_EmptyToken(t *testing.T) {
	_, err := NewCloudflareProvisioner(Credentials{ZoneID: "zone-1"}, buildOptions(nil), slog.Default())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
