package publisher

import (
	"context"
	"encoding/base64"
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

// fakeGitRepo is the git object store of one repository.
type fakeGitRepo struct {
	head    string
	files   map[string][]byte
	blobs   map[string][]byte
	trees   map[string]map[string]string
	commits map[string]string
}

// fakeGitHub serves the REST and git data endpoints the publisher uses.
type fakeGitHub struct {
	mu       sync.Mutex
	repos    map[string]*fakeGitRepo
	cname    map[string]string
	pagesOn  map[string]bool
	seq      int
	refMoves int

	// failBlob rejects the blob whose content equals it.
	failBlob string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		repos:   map[string]*fakeGitRepo{},
		cname:   map[string]string{},
		pagesOn: map[string]bool{},
	}
}

func (f *fakeGitHub) nextSHA(kind string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", kind, f.seq)
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("Authorization") != "Bearer gh-token" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
		return
	}

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	if path == "user" && r.Method == http.MethodGet {
		json.NewEncoder(w).Encode(map[string]any{"login": "Octo"})
		return
	}

	if path == "user/repos" && r.Method == http.MethodPost {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		name := body["name"].(string)
		if _, ok := f.repos[name]; ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{
				"message": "Repository creation failed.",
				"errors":  []map[string]string{{"resource": "Repository", "field": "name", "message": "name already exists on this account"}},
			})
			return
		}
		repo := &fakeGitRepo{
			files:   map[string][]byte{},
			blobs:   map[string][]byte{},
			trees:   map[string]map[string]string{},
			commits: map[string]string{},
		}
		if init, _ := body["auto_init"].(bool); init {
			repo.head = f.nextSHA("commit")
			repo.commits[repo.head] = ""
		}
		f.repos[name] = repo
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(f.repoJSON(name))
		return
	}

	if len(parts) < 3 || parts[0] != "repos" {
		notFound(w)
		return
	}
	name := parts[2]
	repo, ok := f.repos[name]

	switch {
	case len(parts) == 3 && r.Method == http.MethodGet:
		if !ok {
			notFound(w)
			return
		}
		json.NewEncoder(w).Encode(f.repoJSON(name))

	case len(parts) == 3 && r.Method == http.MethodDelete:
		if !ok {
			notFound(w)
			return
		}
		delete(f.repos, name)
		delete(f.pagesOn, name)
		delete(f.cname, name)
		w.WriteHeader(http.StatusNoContent)

	case !ok:
		notFound(w)

	case len(parts) >= 5 && parts[3] == "git":
		f.serveGit(w, r, repo, parts[4:])

	case len(parts) == 4 && parts[3] == "pages":
		f.servePages(w, r, name)

	default:
		notFound(w)
	}
}

func (f *fakeGitHub) serveGit(w http.ResponseWriter, r *http.Request, repo *fakeGitRepo, parts []string) {
	switch {
	case parts[0] == "ref" && r.Method == http.MethodGet:
		if repo.head == "" || strings.Join(parts[1:], "/") != "heads/main" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"message": "Git Repository is empty."})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ref":    "refs/heads/main",
			"object": map[string]string{"sha": repo.head, "type": "commit"},
		})

	case parts[0] == "blobs" && r.Method == http.MethodPost:
		var body struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		content, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil || body.Encoding != "base64" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"message": "Invalid blob encoding"})
			return
		}
		if f.failBlob != "" && string(content) == f.failBlob {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"message": "content is too large"})
			return
		}
		sha := f.nextSHA("blob")
		repo.blobs[sha] = content
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sha": sha})

	case parts[0] == "trees" && r.Method == http.MethodPost:
		var body struct {
			BaseTree string `json:"base_tree"`
			Tree     []struct {
				Path string `json:"path"`
				Mode string `json:"mode"`
				Type string `json:"type"`
				SHA  string `json:"sha"`
			} `json:"tree"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		entries := map[string]string{}
		for _, e := range body.Tree {
			if _, ok := repo.blobs[e.SHA]; !ok || e.Type != "blob" || e.Mode != "100644" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				json.NewEncoder(w).Encode(map[string]string{"message": "tree.sha " + e.SHA + " is not a valid blob"})
				return
			}
			entries[e.Path] = e.SHA
		}
		sha := f.nextSHA("tree")
		repo.trees[sha] = entries
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sha": sha})

	case parts[0] == "commits" && r.Method == http.MethodPost:
		var body struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := repo.trees[body.Tree]; !ok || len(body.Parents) != 1 || body.Parents[0] != repo.head {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"message": "Invalid tree or parent"})
			return
		}
		sha := f.nextSHA("commit")
		repo.commits[sha] = body.Tree
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"sha": sha, "message": body.Message, "tree": map[string]string{"sha": body.Tree}})

	case parts[0] == "refs" && r.Method == http.MethodPatch:
		var body struct {
			SHA string `json:"sha"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		tree, ok := repo.commits[body.SHA]
		if !ok || strings.Join(parts[1:], "/") != "heads/main" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"message": "Object does not exist"})
			return
		}
		repo.head = body.SHA
		repo.files = map[string][]byte{}
		for path, blob := range repo.trees[tree] {
			repo.files[path] = repo.blobs[blob]
		}
		f.refMoves++
		json.NewEncoder(w).Encode(map[string]any{
			"ref":    "refs/heads/main",
			"object": map[string]string{"sha": body.SHA, "type": "commit"},
		})

	default:
		notFound(w)
	}
}

func (f *fakeGitHub) servePages(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPost:
		if f.pagesOn[name] {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"message": "GitHub Pages is already enabled."})
			return
		}
		f.pagesOn[name] = true
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"html_url": "https://octo.github.io/" + name + "/"})

	case http.MethodPut:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		cname, _ := body["cname"].(string)
		for other, taken := range f.cname {
			if other != name && taken == cname && f.pagesOn[other] {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"message": "The CNAME `" + cname + "` is already taken."})
				return
			}
		}
		f.cname[name] = cname
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !f.pagesOn[name] {
			notFound(w)
			return
		}
		delete(f.pagesOn, name)
		delete(f.cname, name)
		w.WriteHeader(http.StatusNoContent)

	default:
		notFound(w)
	}
}

func (f *fakeGitHub) repoJSON(name string) map[string]any {
	return map[string]any{
		"name":           name,
		"full_name":      "Octo/" + name,
		"html_url":       "https://github.com/Octo/" + name,
		"default_branch": "main",
		"owner":          map[string]string{"login": "Octo"},
	}
}

func newTestGitHub(t *testing.T, token string) (*GitHubFactory, *fakeGitHub) {
	t.Helper()
	fake := newFakeGitHub()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	return NewGitHubFactory(GitHubConfig{Token: token, BaseURL: server.URL}, slog.Default()), fake
}

func TestGitHub_PublishFlow(t *testing.T) {
	factory, fake := newTestGitHub(t, "")
	ctx := context.Background()

	pub, err := factory.For(ctx, "gh-token")
	require.NoError(t, err)
	assert.Equal(t, "octo.github.io", pub.HostingTarget())

	repo, err := pub.CreateRepository(ctx, "alice-my-site", "alice.codeer.org")
	require.NoError(t, err)
	assert.Equal(t, "Octo/alice-my-site", repo.FullName)
	assert.Equal(t, "https://github.com/Octo/alice-my-site", repo.URL)

	ref, err := pub.UploadFiles(ctx, "alice-my-site", []File{
		{Path: "index.html", Content: "<h1>hi</h1>"},
		{Path: "css/site.css", Content: "Ym9keXt9", Encoding: EncodingBase64},
	})
	require.NoError(t, err)
	site := fake.repos["alice-my-site"]
	assert.Equal(t, site.head, ref)
	assert.Equal(t, 1, fake.refMoves, "all files land in one commit")
	assert.Equal(t, []byte("<h1>hi</h1>"), site.files["index.html"])
	assert.Equal(t, []byte("body{}"), site.files["css/site.css"])

	hostingURL, err := pub.EnableStaticHosting(ctx, "alice-my-site", "alice.codeer.org")
	require.NoError(t, err)
	assert.Equal(t, "https://octo.github.io/alice-my-site/", hostingURL)
	assert.Equal(t, "alice.codeer.org", fake.cname["alice-my-site"])

	require.NoError(t, pub.DeleteRepository(ctx, "alice-my-site"))
	assert.NotContains(t, fake.repos, "alice-my-site")
}

func TestGitHub_FallsBackToPlatformToken(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	pub, err := factory.For(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "octo.github.io", pub.HostingTarget())
}

func TestGitHub_NoToken(t *testing.T) {
	factory, _ := newTestGitHub(t, "")
	_, err := factory.For(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestGitHub_BadToken(t *testing.T) {
	factory, _ := newTestGitHub(t, "")
	_, err := factory.For(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestGitHub_CreateDuplicate(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	_, err = pub.CreateRepository(ctx, "dup", "")
	require.NoError(t, err)
	_, err = pub.CreateRepository(ctx, "dup", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGitHub_EnableTwiceIsTolerated(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	_, err = pub.CreateRepository(ctx, "site", "")
	require.NoError(t, err)
	_, err = pub.EnableStaticHosting(ctx, "site", "site.codeer.org")
	require.NoError(t, err)

	hostingURL, err := pub.EnableStaticHosting(ctx, "site", "site.codeer.org")
	require.NoError(t, err)
	assert.Equal(t, "https://octo.github.io/site/", hostingURL)
}

func TestGitHub_DeleteMissingIsSuccess(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	assert.NoError(t, pub.DeleteRepository(ctx, "ghost"))
}

func TestGitHub_UploadToMissingRepo(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	_, err = pub.UploadFiles(ctx, "ghost", []File{{Path: "index.html", Content: "x"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGitHub_UploadIsAllOrNothing(t *testing.T) {
	factory, fake := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	_, err = pub.CreateRepository(ctx, "site", "")
	require.NoError(t, err)
	head := fake.repos["site"].head

	fake.failBlob = "too big"
	_, err = pub.UploadFiles(ctx, "site", []File{
		{Path: "index.html", Content: "<h1>hi</h1>"},
		{Path: "big.bin", Content: "too big"},
		{Path: "about.html", Content: "about"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "big.bin (2/3)")

	assert.Empty(t, fake.repos["site"].files)
	assert.Equal(t, head, fake.repos["site"].head)
	assert.Zero(t, fake.refMoves)
}

func TestGitHub_UploadNothingFails(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	_, err = pub.UploadFiles(ctx, "site", nil)
	assert.Error(t, err)
}

func TestGitHub_DisableFreesCustomDomain(t *testing.T) {
	factory, fake := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	for _, name := range []string{"blog-old", "blog-new"} {
		_, err = pub.CreateRepository(ctx, name, "")
		require.NoError(t, err)
	}
	_, err = pub.EnableStaticHosting(ctx, "blog-old", "blog.codeer.org")
	require.NoError(t, err)

	_, err = pub.EnableStaticHosting(ctx, "blog-new", "blog.codeer.org")
	assert.ErrorIs(t, err, ErrDomainInUse)

	require.NoError(t, pub.DisableStaticHosting(ctx, "blog-old"))
	assert.False(t, fake.pagesOn["blog-old"])
	assert.Contains(t, fake.repos, "blog-old", "repository is kept")

	_, err = pub.EnableStaticHosting(ctx, "blog-new", "blog.codeer.org")
	require.NoError(t, err)
	assert.Equal(t, "blog.codeer.org", fake.cname["blog-new"])
}

func TestGitHub_DisableMissingIsSuccess(t *testing.T) {
	factory, _ := newTestGitHub(t, "gh-token")
	ctx := context.Background()
	pub, err := factory.For(ctx, "")
	require.NoError(t, err)

	assert.NoError(t, pub.DisableStaticHosting(ctx, "ghost"))

	_, err = pub.CreateRepository(ctx, "quiet", "")
	require.NoError(t, err)
	assert.NoError(t, pub.DisableStaticHosting(ctx, "quiet"))
}
