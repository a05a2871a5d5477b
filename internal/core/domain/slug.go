package domain

import (
	"strings"

	"github.com/gosimple/slug"
)

// MaxRepoNameLength is the longest repository name the hosting provider accepts.
const MaxRepoNameLength = 100

// repoSuffixLength is how much of the page ID ends a repository name.
const repoSuffixLength = 8

// =============================================================================
// Repository Naming
// =============================================================================

// Slugify converts a name to a URL-safe slug.
//
// Example:
//
//	Slugify("Hello World")  // returns "hello-world"
//	Slugify("My Site 2.0!") // returns "my-site-2-0"
func Slugify(name string) string {
	return slug.Make(name)
}

// RepoName derives the hosting repository name for a page. The page ID
// suffix keeps names unique across domains and across a delete followed by
// a publish of the same name, since deleted pages keep their repository.
//
// Example:
//
//	RepoName("alice", "My Site", "1f0c2d9e-...") // returns "alice-my-site-1f0c2d9e"
func RepoName(subdomain, title, pageID string) string {
	suffix := strings.ToLower(strings.ReplaceAll(pageID, "-", ""))
	if len(suffix) > repoSuffixLength {
		suffix = suffix[:repoSuffixLength]
	}

	name := subdomain
	if s := Slugify(title); s != "" && s != subdomain {
		name = subdomain + "-" + s
	}
	if suffix == "" {
		return truncateRepoName(name, MaxRepoNameLength)
	}
	return truncateRepoName(name, MaxRepoNameLength-len(suffix)-1) + "-" + suffix
}

func truncateRepoName(name string, max int) string {
	if len(name) > max {
		name = strings.TrimRight(name[:max], "-")
	}
	return name
}
