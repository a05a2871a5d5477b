// Package limits provides file-set policy validation for publish requests.
// All functions are pure (no I/O).
package limits

import (
	"fmt"
	"path"
	"strings"
)

// =============================================================================
// Types
// =============================================================================

// ValidationResult represents the outcome of a policy check.
type ValidationResult struct {
	// Allowed indicates whether the file set is permitted
	Allowed bool

	// Reason explains why the file set was rejected (empty if Allowed is true)
	Reason string
}

// FilePolicy bounds what a single publish may upload.
type FilePolicy struct {
	MaxFiles          int
	MaxTotalBytes     int64
	MaxFileBytes      int64
	AllowedExtensions []string

	// MaxPagesPerOwner caps live pages per owner. Zero means unlimited.
	MaxPagesPerOwner int
}

// DefaultFilePolicy returns the policy used when nothing is configured.
func DefaultFilePolicy() FilePolicy {
	return FilePolicy{
		MaxFiles:      500,
		MaxTotalBytes: 50 << 20,
		MaxFileBytes:  10 << 20,
		AllowedExtensions: []string{
			".html", ".htm", ".css", ".js", ".mjs", ".json", ".txt", ".md", ".xml",
			".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".ico",
			".woff", ".woff2", ".ttf", ".map", ".webmanifest",
		},
	}
}

// FileInfo is the policy-relevant view of one normalized file.
type FileInfo struct {
	Path string
	Size int64
}

// =============================================================================
// Validation Functions
// =============================================================================

// NormalizePath cleans a repository-relative path and rejects anything that
// could escape the repository root.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("file path is required")
	}
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("file path %q must use forward slashes", p)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("file path %q must be relative", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("file path %q must not contain '..'", p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasPrefix(cleaned, ".git/") || cleaned == ".git" {
		return "", fmt.Errorf("file path %q is not allowed", p)
	}
	return cleaned, nil
}

// ValidateFiles checks a normalized file set against the policy.
func ValidateFiles(policy FilePolicy, files []FileInfo) ValidationResult {
	if len(files) == 0 {
		return ValidationResult{Allowed: false, Reason: "at least one file is required"}
	}

	if policy.MaxFiles > 0 && len(files) > policy.MaxFiles {
		return ValidationResult{
			Allowed: false,
			Reason:  fmt.Sprintf("file limit exceeded: %d/%d", len(files), policy.MaxFiles),
		}
	}

	seen := make(map[string]struct{}, len(files))
	var total int64
	for _, f := range files {
		if _, dup := seen[f.Path]; dup {
			return ValidationResult{Allowed: false, Reason: fmt.Sprintf("duplicate file path: %s", f.Path)}
		}
		seen[f.Path] = struct{}{}

		if policy.MaxFileBytes > 0 && f.Size > policy.MaxFileBytes {
			return ValidationResult{
				Allowed: false,
				Reason:  fmt.Sprintf("file %s is too large: %d/%d bytes", f.Path, f.Size, policy.MaxFileBytes),
			}
		}

		if r := ValidateExtension(policy, f.Path); !r.Allowed {
			return r
		}

		total += f.Size
	}

	if policy.MaxTotalBytes > 0 && total > policy.MaxTotalBytes {
		return ValidationResult{
			Allowed: false,
			Reason:  fmt.Sprintf("total size limit exceeded: %d/%d bytes", total, policy.MaxTotalBytes),
		}
	}

	return ValidationResult{Allowed: true}
}

// ValidateExtension checks a path's extension against the allow list.
func ValidateExtension(policy FilePolicy, p string) ValidationResult {
	if len(policy.AllowedExtensions) == 0 {
		// No list configured means every extension is accepted
		return ValidationResult{Allowed: true}
	}

	ext := strings.ToLower(path.Ext(p))
	for _, allowed := range policy.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return ValidationResult{Allowed: true}
		}
	}

	return ValidationResult{
		Allowed: false,
		Reason:  fmt.Sprintf("file type '%s' not allowed: %s", ext, p),
	}
}

// ValidatePageCreation checks the owner's live page count.
func ValidatePageCreation(policy FilePolicy, livePages int) ValidationResult {
	if policy.MaxPagesPerOwner > 0 && livePages >= policy.MaxPagesPerOwner {
		return ValidationResult{
			Allowed: false,
			Reason:  fmt.Sprintf("page limit reached: %d/%d", livePages, policy.MaxPagesPerOwner),
		}
	}
	return ValidationResult{Allowed: true}
}

// =============================================================================
// Convenience Methods
// =============================================================================

// Ok returns true if the validation passed.
func (r ValidationResult) Ok() bool {
	return r.Allowed
}

// Error returns the reason as an error if validation failed, nil otherwise.
func (r ValidationResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("file policy violated: %s", r.Reason)
}
