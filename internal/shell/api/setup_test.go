package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/pagehost/internal/core/crypto"
	coredns "github.com/artpar/pagehost/internal/core/dns"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/shell/allocator"
	"github.com/artpar/pagehost/internal/shell/api/middleware"
	"github.com/artpar/pagehost/internal/shell/dns"
	"github.com/artpar/pagehost/internal/shell/metrics"
	"github.com/artpar/pagehost/internal/shell/orchestrator"
	"github.com/artpar/pagehost/internal/shell/pool"
	"github.com/artpar/pagehost/internal/shell/publisher"
	"github.com/artpar/pagehost/internal/shell/store"
)

const testSecret = "gateway-secret"

type apiEnv struct {
	server *httptest.Server
	store  *store.SQLiteStore
	pub    *publisher.MemoryPublisher
}

func setupServer(t *testing.T) *apiEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	factory := dns.NewFactory(slog.Default())

	alloc, err := allocator.New(st, []allocator.PlatformDomain{
		{Name: "codeer.org", Provider: "memory", ZoneID: "zone-codeer"},
	}, factory, coredns.FailOpen, m, slog.Default())
	require.NoError(t, err)

	sealer, err := crypto.NewSealer("test-master-key-0123456789")
	require.NoError(t, err)
	p := pool.New(st, sealer, factory, pool.Config{AllowMemoryProvider: true}, slog.Default())
	pub := publisher.NewMemoryPublisher("octo")

	orch := orchestrator.New(st, alloc, p, pub, m, orchestrator.DefaultConfig(), slog.Default())

	handler := SetupAPI(APIConfig{
		Orchestrator: orch,
		Pool:         p,
		Platform:     alloc,
		Store:        st,
		Gatherer:     reg,
		SharedSecret: testSecret,
		Logger:       slog.Default(),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &apiEnv{server: srv, store: st, pub: pub}
}

func (e *apiEnv) do(t *testing.T, method, path, user, contentType string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("X-Gateway-Secret", testSecret)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", contentType)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Email", user+"@example.com")
		req.Header.Set("X-Access-Token", "gh-"+user)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *apiEnv) publish(t *testing.T, user, sub string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/publish", user, "application/json", map[string]any{
		"title":     "Portfolio",
		"subdomain": sub,
		"domain":    "codeer.org",
		"files": []map[string]string{
			{"path": "index.html", "content": "<h1>hi</h1>"},
		},
	})
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type jsonAPIDoc struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Status string         `json:"status"`
		Code   string         `json:"code"`
		Detail string         `json:"detail"`
		Meta   map[string]any `json:"meta"`
	} `json:"errors"`
}

type jsonAPIResource struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

// =============================================================================
// Health, metrics, OpenAPI
// =============================================================================

func TestHealthAndReady(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ready", body["status"])
}

func TestReady_DatabaseClosed(t *testing.T) {
	env := setupServer(t)
	require.NoError(t, env.store.Close())

	resp := env.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetrics_CountsPublishes(t *testing.T) {
	env := setupServer(t)
	require.Equal(t, http.StatusCreated, env.publish(t, "alice", "site").StatusCode)

	resp := env.do(t, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `pagehost_publish_total{outcome="success"} 1`)
}

func TestOpenAPI(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/openapi.json", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, resp)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/publish")
	assert.Contains(t, paths, "/api/v1/pages")
	assert.Contains(t, paths, "/api/v1/donated_domains/{id}/toggle")
}

func TestGatewaySecretRequired(t *testing.T) {
	env := setupServer(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/platform_domains", nil)
	require.NoError(t, err)
	req.Header.Set("X-Gateway-Secret", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "auth", decode[middleware.ErrorBody](t, resp).ErrorKind)
}

// =============================================================================
// Publish actions
// =============================================================================

func TestPublish_Created(t *testing.T) {
	env := setupServer(t)

	resp := env.publish(t, "alice", "site")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	res := decode[orchestrator.PublishResult](t, resp)
	assert.NotEmpty(t, res.PageID)
	assert.Equal(t, "https://site.codeer.org", res.CustomURL)
	assert.Contains(t, res.HostingURL, "octo.github.io")
	assert.Equal(t, []string{domain.RepoName("site", "Portfolio", res.PageID)}, env.pub.RepoNames())
}

func TestPublish_ErrorKinds(t *testing.T) {
	env := setupServer(t)
	require.Equal(t, http.StatusCreated, env.publish(t, "alice", "site").StatusCode)

	tests := []struct {
		name   string
		resp   func() *http.Response
		status int
		kind   string
	}{
		{
			name:   "anonymous",
			resp:   func() *http.Response { return env.publish(t, "", "other") },
			status: http.StatusUnauthorized,
			kind:   "auth",
		},
		{
			name:   "taken",
			resp:   func() *http.Response { return env.publish(t, "bob", "site") },
			status: http.StatusConflict,
			kind:   "conflict",
		},
		{
			name:   "reserved name",
			resp:   func() *http.Response { return env.publish(t, "bob", "www") },
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name: "unknown field",
			resp: func() *http.Response {
				return env.do(t, http.MethodPost, "/api/v1/publish", "bob", "application/json", map[string]any{"bogus": true})
			},
			status: http.StatusBadRequest,
			kind:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, decode[middleware.ErrorBody](t, resp).ErrorKind)
		})
	}
}

func TestPublish_DownstreamFailureCarriesStageAndCause(t *testing.T) {
	env := setupServer(t)
	env.pub.FailUpload = errors.New("github: 502 bad gateway")

	resp := env.publish(t, "alice", "site")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decode[middleware.ErrorBody](t, resp)
	assert.Equal(t, "downstream", body.ErrorKind)
	assert.Equal(t, orchestrator.StageUploadFiles, body.Stage)
	assert.Equal(t, "upload failed", body.Message)
	assert.Equal(t, "github: 502 bad gateway", body.Detail)
}

func TestPublish_ConflictOmitsDetail(t *testing.T) {
	env := setupServer(t)
	require.Equal(t, http.StatusCreated, env.publish(t, "alice", "site").StatusCode)

	resp := env.publish(t, "bob", "site")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, decode[middleware.ErrorBody](t, resp).Detail)
}

func TestPublish_BodyTooLarge(t *testing.T) {
	env := setupServer(t)
	handler := SetupAPI(APIConfig{
		Store:        env.store,
		MaxBodyBytes: 16,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/publish", strings.NewReader(`{"title":"a very long title indeed"}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds 16 bytes")
}

func TestAvailability(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/api/v1/availability?subdomain=site&domain=codeer.org", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[orchestrator.Availability](t, resp).Available)

	require.Equal(t, http.StatusCreated, env.publish(t, "alice", "site").StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/availability?subdomain=site&domain=codeer.org", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	avail := decode[orchestrator.Availability](t, resp)
	assert.False(t, avail.Available)
	assert.NotEmpty(t, avail.Reason)

	resp = env.do(t, http.MethodGet, "/api/v1/availability?domain=codeer.org", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlatformDomains(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/api/v1/platform_domains", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[PlatformDomainsResponse](t, resp)
	assert.Equal(t, []PlatformDomain{{Name: "codeer.org", Provider: "memory"}}, body.Domains)
}

// =============================================================================
// JSON:API resources
// =============================================================================

func TestPages_ListGetDelete(t *testing.T) {
	env := setupServer(t)
	created := decode[orchestrator.PublishResult](t, env.publish(t, "alice", "site"))

	resp := env.do(t, http.MethodGet, "/api/v1/pages", "alice", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []jsonAPIResource
	require.NoError(t, json.Unmarshal(decode[jsonAPIDoc](t, resp).Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.PageID, list[0].ID)
	assert.Equal(t, "pages", list[0].Type)
	assert.Equal(t, "active", list[0].Attributes["status"])

	resp = env.do(t, http.MethodGet, "/api/v1/pages/"+created.PageID, "bob", "application/vnd.api+json", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/page_deployments?filter[page_id]="+created.PageID, "alice", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deployments []jsonAPIResource
	require.NoError(t, json.Unmarshal(decode[jsonAPIDoc](t, resp).Data, &deployments))
	require.Len(t, deployments, 1)
	assert.Equal(t, "deployed", deployments[0].Attributes["status"])

	resp = env.do(t, http.MethodDelete, "/api/v1/pages/"+created.PageID, "alice", "application/vnd.api+json", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/availability?subdomain=site&domain=codeer.org", "", "", nil)
	assert.True(t, decode[orchestrator.Availability](t, resp).Available)
}

func TestPages_AnonymousListIsAuthError(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/api/v1/pages", "", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	doc := decode[jsonAPIDoc](t, resp)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "auth", doc.Errors[0].Code)
}

func TestPageDeployments_RequiresPageFilter(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/api/v1/page_deployments", "alice", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	doc := decode[jsonAPIDoc](t, resp)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "validation", doc.Errors[0].Code)
}

func TestDonatedDomains_SubmitAndToggle(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/donated_domains", "donor", "application/vnd.api+json", map[string]any{
		"data": map[string]any{
			"type": "donated_domains",
			"attributes": map[string]any{
				"domain_name":    "gift.dev",
				"dns_provider":   "memory",
				"dns_zone_id":    "zone-gift",
				"dns_api_token":  "secret-token",
				"max_subdomains": 5,
			},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")

	var doc jsonAPIDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	var created jsonAPIResource
	require.NoError(t, json.Unmarshal(doc.Data, &created))
	assert.Equal(t, true, created.Attributes["is_active"])

	resp = env.do(t, http.MethodGet, "/api/v1/donated_domains", "", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var available []jsonAPIResource
	require.NoError(t, json.Unmarshal(decode[jsonAPIDoc](t, resp).Data, &available))
	assert.Len(t, available, 1)

	resp = env.do(t, http.MethodPost, "/api/v1/donated_domains/"+created.ID+"/toggle", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/donated_domains/"+created.ID+"/toggle", "alice", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/donated_domains/"+created.ID+"/toggle", "donor", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["is_active"])

	resp = env.do(t, http.MethodGet, "/api/v1/donated_domains", "", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(decode[jsonAPIDoc](t, resp).Data, &available))
	assert.Empty(t, available)

	resp = env.do(t, http.MethodGet, "/api/v1/donated_domains?filter[mine]=true", "donor", "application/vnd.api+json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []jsonAPIResource
	require.NoError(t, json.Unmarshal(decode[jsonAPIDoc](t, resp).Data, &mine))
	assert.Len(t, mine, 1)
}

func TestDonatedDomains_NoDelete(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodDelete, "/api/v1/donated_domains/anything", "donor", "application/vnd.api+json", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
