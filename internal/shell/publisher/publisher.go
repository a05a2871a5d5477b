// Package publisher pushes a page's files to a version-control host and turns
// on static hosting for the resulting repository.
// This is part of the Imperative Shell - every call is network I/O.
package publisher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAlreadyExists is returned when the repository name is taken.
	ErrAlreadyExists = errors.New("repository already exists")

	// ErrDomainInUse is returned when another site already serves the
	// custom domain.
	ErrDomainInUse = errors.New("custom domain already in use")

	// ErrAuth is returned when the host rejects the credential.
	ErrAuth = errors.New("hosting provider rejected credentials")

	// ErrNotFound is returned when the repository does not exist.
	ErrNotFound = errors.New("repository not found")

	// ErrInvalidEncoding is returned for a file encoding other than utf-8 or base64.
	ErrInvalidEncoding = errors.New("invalid file encoding")
)

// =============================================================================
// Types
// =============================================================================

const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// File is one file of a page, with content in the given encoding.
type File struct {
	Path     string `json:"path" validate:"required"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=utf-8 base64"`
}

// Bytes decodes the file content.
func (f File) Bytes() ([]byte, error) {
	switch strings.ToLower(f.Encoding) {
	case "", EncodingUTF8:
		return []byte(f.Content), nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEncoding, f.Path, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s: %q", ErrInvalidEncoding, f.Path, f.Encoding)
}

// Size returns the decoded content length.
func (f File) Size() (int64, error) {
	b, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// Repository identifies a created repository.
type Repository struct {
	Name     string
	FullName string
	URL      string
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher is bound to one credential on the hosting provider.
type Publisher interface {
	// CreateRepository creates an empty public repository.
	CreateRepository(ctx context.Context, name, description string) (*Repository, error)

	// UploadFiles commits every file in a single commit and returns its ref.
	// Nothing becomes visible unless every file is accepted.
	UploadFiles(ctx context.Context, repoName string, files []File) (string, error)

	// EnableStaticHosting serves the repository as a site with customDomain
	// bound, and returns the provider's hosting URL.
	EnableStaticHosting(ctx context.Context, repoName, customDomain string) (string, error)

	// DisableStaticHosting stops serving the repository and frees its custom
	// domain. A missing repository or site is success.
	DisableStaticHosting(ctx context.Context, repoName string) error

	// DeleteRepository removes the repository. A missing repository is success.
	DeleteRepository(ctx context.Context, repoName string) error

	// HostingTarget is the host that custom-domain CNAMEs must point at.
	HostingTarget() string
}

// Factory binds a Publisher to the caller's scoped credential.
type Factory interface {
	For(ctx context.Context, accessToken string) (Publisher, error)
}
