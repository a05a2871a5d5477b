package publisher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// MemoryPublisher keeps repositories in process. It backs tests and dev mode
// and supports failure injection per operation.
type MemoryPublisher struct {
	mu    sync.Mutex
	owner string
	repos map[string]*MemoryRepo

	FailCreate  error
	FailUpload  error
	FailEnable  error
	FailDisable error
	FailDelete  error

	calls []string
}

// MemoryRepo is the in-process state of one repository.
type MemoryRepo struct {
	Name         string
	Description  string
	Files        map[string][]byte
	HostingOn    bool
	CustomDomain string
}

// NewMemoryPublisher creates an empty publisher for owner.
func NewMemoryPublisher(owner string) *MemoryPublisher {
	return &MemoryPublisher{owner: owner, repos: make(map[string]*MemoryRepo)}
}

// For returns the publisher itself for any credential.
func (m *MemoryPublisher) For(_ context.Context, _ string) (Publisher, error) {
	return m, nil
}

func (m *MemoryPublisher) CreateRepository(_ context.Context, name, description string) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "create:"+name)

	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	if _, ok := m.repos[name]; ok {
		return nil, fmt.Errorf("create repository %s: %w", name, ErrAlreadyExists)
	}
	m.repos[name] = &MemoryRepo{Name: name, Description: description, Files: map[string][]byte{}}
	return &Repository{
		Name:     name,
		FullName: m.owner + "/" + name,
		URL:      fmt.Sprintf("https://github.com/%s/%s", m.owner, name),
	}, nil
}

func (m *MemoryPublisher) UploadFiles(_ context.Context, repoName string, files []File) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "upload:"+repoName)

	if m.FailUpload != nil {
		return "", m.FailUpload
	}
	repo, ok := m.repos[repoName]
	if !ok {
		return "", fmt.Errorf("upload %s: %w", repoName, ErrNotFound)
	}

	staged := make(map[string][]byte, len(files))
	h := sha1.New()
	for _, f := range files {
		b, err := f.Bytes()
		if err != nil {
			return "", err
		}
		staged[f.Path] = b
		h.Write([]byte(f.Path))
		h.Write(b)
	}
	for path, b := range staged {
		repo.Files[path] = b
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *MemoryPublisher) EnableStaticHosting(_ context.Context, repoName, customDomain string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "enable:"+repoName)

	if m.FailEnable != nil {
		return "", m.FailEnable
	}
	repo, ok := m.repos[repoName]
	if !ok {
		return "", fmt.Errorf("enable pages %s: %w", repoName, ErrNotFound)
	}
	for name, other := range m.repos {
		if name != repoName && other.HostingOn && customDomain != "" && other.CustomDomain == customDomain {
			return "", fmt.Errorf("enable pages %s: %w: %s is served by %s", repoName, ErrDomainInUse, customDomain, name)
		}
	}
	repo.HostingOn = true
	repo.CustomDomain = customDomain
	return fmt.Sprintf("https://%s.github.io/%s/", m.owner, repoName), nil
}

func (m *MemoryPublisher) DisableStaticHosting(_ context.Context, repoName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "disable:"+repoName)

	if m.FailDisable != nil {
		return m.FailDisable
	}
	if repo, ok := m.repos[repoName]; ok {
		repo.HostingOn = false
		repo.CustomDomain = ""
	}
	return nil
}

func (m *MemoryPublisher) DeleteRepository(_ context.Context, repoName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete:"+repoName)

	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.repos, repoName)
	return nil
}

func (m *MemoryPublisher) HostingTarget() string {
	return m.owner + ".github.io"
}

// Repo returns a copy of the named repository's state.
func (m *MemoryPublisher) Repo(name string) (MemoryRepo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[name]
	if !ok {
		return MemoryRepo{}, false
	}
	cp := *r
	cp.Files = make(map[string][]byte, len(r.Files))
	for k, v := range r.Files {
		cp.Files[k] = v
	}
	return cp, true
}

// RepoNames returns all repository names, sorted.
func (m *MemoryPublisher) RepoNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.repos))
	for n := range m.repos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Calls returns the operations performed so far, in order.
func (m *MemoryPublisher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
