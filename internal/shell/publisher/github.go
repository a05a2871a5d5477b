package publisher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

const defaultBranch = "main"

// GitHubConfig configures the GitHub backend.
type GitHubConfig struct {
	// Token is the platform credential used when the caller has none.
	Token string

	// Org, when set, owns every repository instead of the token's user.
	Org string

	// BaseURL overrides the REST endpoint, e.g. for GitHub Enterprise.
	BaseURL string

	Timeout time.Duration
}

// =============================================================================
// Factory
// =============================================================================

// GitHubFactory creates GitHub publishers per caller credential.
type GitHubFactory struct {
	cfg    GitHubConfig
	logger *slog.Logger
}

// NewGitHubFactory creates a factory.
func NewGitHubFactory(cfg GitHubConfig, logger *slog.Logger) *GitHubFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GitHubFactory{cfg: cfg, logger: logger.With("component", "publisher", "provider", "github")}
}

// For returns a publisher for accessToken, falling back to the platform token.
func (f *GitHubFactory) For(ctx context.Context, accessToken string) (Publisher, error) {
	token := accessToken
	if token == "" {
		token = f.cfg.Token
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no access token", ErrAuth)
	}
	return NewGitHubPublisher(ctx, f.cfg, token, f.logger)
}

// =============================================================================
// Publisher
// =============================================================================

// GitHubPublisher publishes to GitHub repositories served by GitHub Pages.
type GitHubPublisher struct {
	client *github.Client
	owner  string
	org    string
	logger *slog.Logger
}

// NewGitHubPublisher authenticates with token and resolves the repository owner.
func NewGitHubPublisher(ctx context.Context, cfg GitHubConfig, token string, logger *slog.Logger) (*GitHubPublisher, error) {
	client := github.NewClient(&http.Client{Timeout: cfg.Timeout}).WithAuthToken(token)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	owner := cfg.Org
	if owner == "" {
		user, _, err := client.Users.Get(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("resolve GitHub user: %w", mapGitHubError(err))
		}
		owner = user.GetLogin()
	}

	return &GitHubPublisher{
		client: client,
		owner:  owner,
		org:    cfg.Org,
		logger: logger.With("owner", owner),
	}, nil
}

// CreateRepository creates a public repository with an initial commit, so
// the git data API has a branch to build on.
func (p *GitHubPublisher) CreateRepository(ctx context.Context, name, description string) (*Repository, error) {
	repo, _, err := p.client.Repositories.Create(ctx, p.org, &github.Repository{
		Name:        github.String(name),
		Description: github.String(description),
		Private:     github.Bool(false),
		HasIssues:   github.Bool(false),
		HasWiki:     github.Bool(false),
		AutoInit:    github.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create repository %s: %w", name, mapGitHubError(err))
	}

	p.logger.Info("repository created", "repo", repo.GetFullName())
	return &Repository{
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
		URL:      repo.GetHTMLURL(),
	}, nil
}

// UploadFiles writes every file as a blob, builds one tree from them and
// moves the default branch to a single commit of that tree. Blobs are
// unreachable until the branch moves, so a failure part way leaves the
// repository unchanged.
func (p *GitHubPublisher) UploadFiles(ctx context.Context, repoName string, files []File) (string, error) {
	if len(files) == 0 {
		return "", errors.New("no files to upload")
	}

	repo, _, err := p.client.Repositories.Get(ctx, p.owner, repoName)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", repoName, mapGitHubError(err))
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = defaultBranch
	}

	head, _, err := p.client.Git.GetRef(ctx, p.owner, repoName, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("get branch %s of %s: %w", branch, repoName, mapGitHubError(err))
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for i, f := range files {
		content, err := f.Bytes()
		if err != nil {
			return "", err
		}
		blob, _, err := p.client.Git.CreateBlob(ctx, p.owner, repoName, &github.Blob{
			Content:  github.String(base64.StdEncoding.EncodeToString(content)),
			Encoding: github.String(EncodingBase64),
		})
		if err != nil {
			return "", fmt.Errorf("upload %s (%d/%d): %w", f.Path, i+1, len(files), mapGitHubError(err))
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.String(strings.TrimPrefix(f.Path, "/")),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := p.client.Git.CreateTree(ctx, p.owner, repoName, "", entries)
	if err != nil {
		return "", fmt.Errorf("create tree for %s: %w", repoName, mapGitHubError(err))
	}

	commit, _, err := p.client.Git.CreateCommit(ctx, p.owner, repoName, &github.Commit{
		Message: github.String(fmt.Sprintf("Publish %d files", len(files))),
		Tree:    &github.Tree{SHA: tree.SHA},
		Parents: []*github.Commit{{SHA: github.String(head.GetObject().GetSHA())}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create commit for %s: %w", repoName, mapGitHubError(err))
	}

	if _, _, err := p.client.Git.UpdateRef(ctx, p.owner, repoName, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false); err != nil {
		return "", fmt.Errorf("update branch %s of %s: %w", branch, repoName, mapGitHubError(err))
	}

	p.logger.Info("files uploaded", "repo", repoName, "count", len(files), "commit", commit.GetSHA())
	return commit.GetSHA(), nil
}

// EnableStaticHosting turns on Pages from the default branch root and binds
// customDomain as the Pages CNAME.
func (p *GitHubPublisher) EnableStaticHosting(ctx context.Context, repoName, customDomain string) (string, error) {
	repo, _, err := p.client.Repositories.Get(ctx, p.owner, repoName)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", repoName, mapGitHubError(err))
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = defaultBranch
	}

	pages, resp, err := p.client.Repositories.EnablePages(ctx, p.owner, repoName, &github.Pages{
		Source: &github.PagesSource{
			Branch: github.String(branch),
			Path:   github.String("/"),
		},
	})
	// 409 means Pages is already on, e.g. on a retried request.
	if err != nil && (resp == nil || resp.StatusCode != http.StatusConflict) {
		return "", fmt.Errorf("enable pages %s: %w", repoName, mapGitHubError(err))
	}

	if customDomain != "" {
		if _, err := p.client.Repositories.UpdatePages(ctx, p.owner, repoName, &github.PagesUpdate{
			CNAME: github.String(customDomain),
		}); err != nil {
			return "", fmt.Errorf("set pages domain %s: %w", repoName, mapGitHubError(err))
		}
	}

	hostingURL := pages.GetHTMLURL()
	if hostingURL == "" {
		hostingURL = fmt.Sprintf("https://%s/%s/", p.HostingTarget(), repoName)
	}

	p.logger.Info("pages enabled", "repo", repoName, "hosting_url", hostingURL, "custom_domain", customDomain)
	return hostingURL, nil
}

// DisableStaticHosting turns Pages off, which also releases its CNAME.
func (p *GitHubPublisher) DisableStaticHosting(ctx context.Context, repoName string) error {
	if _, err := p.client.Repositories.DisablePages(ctx, p.owner, repoName); err != nil {
		err = mapGitHubError(err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("disable pages %s: %w", repoName, err)
	}
	p.logger.Info("pages disabled", "repo", repoName)
	return nil
}

// DeleteRepository deletes the repository.
func (p *GitHubPublisher) DeleteRepository(ctx context.Context, repoName string) error {
	if _, err := p.client.Repositories.Delete(ctx, p.owner, repoName); err != nil {
		err = mapGitHubError(err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete repository %s: %w", repoName, err)
	}
	p.logger.Info("repository deleted", "repo", repoName)
	return nil
}

// HostingTarget returns <owner>.github.io.
func (p *GitHubPublisher) HostingTarget() string {
	return strings.ToLower(p.owner) + ".github.io"
}

func mapGitHubError(err error) error {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return err
	}
	switch errResp.Response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, errResp.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if strings.Contains(errResp.Message, "already taken") {
			return fmt.Errorf("%w: %s", ErrDomainInUse, errResp.Message)
		}
		for _, e := range errResp.Errors {
			if strings.Contains(e.Message, "already exists") {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, e.Message)
			}
		}
	}
	return err
}
