package dns

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hetznerZoneID = 42

// fakeHetzner serves the zone and RRSet endpoints of the Hetzner Cloud API.
type fakeHetzner struct {
	mu      sync.Mutex
	zone    string
	rrsets  map[string]schema.ZoneRRSet
	lastReq schema.ZoneRRSetCreateRequest
	deletes []string
}

func (f *fakeHetzner) writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(schema.ErrorResponse{Error: schema.Error{Code: code, Message: message}})
}

func (f *fakeHetzner) action(command string) schema.Action {
	return schema.Action{ID: 1, Status: "success", Command: command, Progress: 100, Started: time.Now()}
}

func (f *fakeHetzner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("Authorization") != "Bearer hz-token" {
		f.writeError(w, http.StatusUnauthorized, "unauthorized", "unable to authenticate")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "zones" || (parts[1] != f.zone && parts[1] != "42") {
		f.writeError(w, http.StatusNotFound, "not_found", "zone not found")
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(schema.ZoneGetResponse{Zone: schema.Zone{
			ID: hetznerZoneID, Name: f.zone, TTL: 3600, Mode: "primary", Status: "ok",
		}})

	case len(parts) == 3 && parts[2] == "rrsets" && r.Method == http.MethodPost:
		var req schema.ZoneRRSetCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		f.lastReq = req
		id := req.Name + "/" + req.Type
		if _, ok := f.rrsets[id]; ok {
			f.writeError(w, http.StatusConflict, "uniqueness_error", "rrset already exists")
			return
		}
		rrset := schema.ZoneRRSet{ID: id, Name: req.Name, Type: req.Type, TTL: req.TTL, Records: req.Records, Zone: hetznerZoneID}
		f.rrsets[id] = rrset
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(schema.ZoneRRSetCreateResponse{RRSet: rrset, Action: f.action("create_rrset")})

	case len(parts) == 5 && parts[2] == "rrsets":
		id := parts[3] + "/" + parts[4]
		rrset, ok := f.rrsets[id]
		if !ok {
			f.writeError(w, http.StatusNotFound, "not_found", "rrset not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(schema.ZoneRRSetGetResponse{RRSet: rrset})
		case http.MethodDelete:
			delete(f.rrsets, id)
			f.deletes = append(f.deletes, id)
			json.NewEncoder(w).Encode(schema.ActionGetResponse{Action: f.action("delete_rrset")})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestHetzner(t *testing.T, token, zoneID string) (*HetznerProvisioner, *fakeHetzner) {
	t.Helper()
	fake := &fakeHetzner{zone: "example.org", rrsets: map[string]schema.ZoneRRSet{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p := NewHetznerProvisioner(
		Credentials{ZoneID: zoneID, APIToken: token},
		buildOptions([]Option{WithBaseURL(server.URL)}),
		slog.Default(),
	)
	return p, fake
}

func TestHetzner_RecordLifecycle(t *testing.T) {
	p, fake := newTestHetzner(t, "hz-token", "example.org")
	ctx := context.Background()

	available, err := p.IsAvailable(ctx, "alice", "example.org", "")
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, p.CreateRecord(ctx, "alice", "example.org", "owner.github.io", ""))
	assert.Equal(t, "alice", fake.lastReq.Name)
	assert.Equal(t, "CNAME", fake.lastReq.Type)
	require.Len(t, fake.lastReq.Records, 1)
	assert.Equal(t, "owner.github.io.", fake.lastReq.Records[0].Value)
	require.NotNil(t, fake.lastReq.TTL)
	assert.Equal(t, 300, *fake.lastReq.TTL)

	available, err = p.IsAvailable(ctx, "alice", "example.org", "")
	require.NoError(t, err)
	assert.False(t, available)

	require.NoError(t, p.DeleteRecord(ctx, "alice", "example.org", ""))
	assert.Empty(t, fake.rrsets)
	assert.Equal(t, []string{"alice/CNAME"}, fake.deletes)
}

func TestHetzner_ZoneDefaultsToDomain(t *testing.T) {
	p, fake := newTestHetzner(t, "hz-token", "")

	require.NoError(t, p.CreateRecord(context.Background(), "alice", "example.org", "owner.github.io", ""))
	assert.Contains(t, fake.rrsets, "alice/CNAME")
}

func TestHetzner_OnlyExactNameMatches(t *testing.T) {
	p, fake := newTestHetzner(t, "hz-token", "example.org")
	fake.rrsets["alice2/CNAME"] = schema.ZoneRRSet{ID: "alice2/CNAME", Name: "alice2", Type: "CNAME", Zone: hetznerZoneID}
	fake.rrsets["alice/A"] = schema.ZoneRRSet{ID: "alice/A", Name: "alice", Type: "A", Zone: hetznerZoneID}

	available, err := p.IsAvailable(context.Background(), "alice", "example.org", "")
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, p.DeleteRecord(context.Background(), "alice", "example.org", ""))
	assert.Len(t, fake.rrsets, 2)
	assert.Empty(t, fake.deletes)
}

func TestHetzner_DeleteMissingIsSuccess(t *testing.T) {
	p, fake := newTestHetzner(t, "hz-token", "example.org")

	require.NoError(t, p.DeleteRecord(context.Background(), "ghost", "example.org", ""))
	assert.Empty(t, fake.deletes)
}

func TestHetzner_VerifyZone(t *testing.T) {
	p, _ := newTestHetzner(t, "hz-token", "example.org")
	ctx := context.Background()

	require.NoError(t, p.VerifyZone(ctx, ""))
	assert.ErrorIs(t, p.VerifyZone(ctx, "missing.org"), ErrZoneNotFound)
}

func TestHetzner_BadToken(t *testing.T) {
	p, _ := newTestHetzner(t, "wrong", "example.org")
	ctx := context.Background()

	assert.ErrorIs(t, p.VerifyZone(ctx, ""), ErrAuth)
	_, err := p.IsAvailable(ctx, "alice", "example.org", "")
	assert.ErrorIs(t, err, ErrAuth)
}
