package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Slugify Tests
// =============================================================================

func TestSlugify_Basic(t *testing.T) {
	assert.Equal(t, "hello-world", Slugify("Hello World"))
}

func TestSlugify_RemovesSpecialChars(t *testing.T) {
	assert.Equal(t, "my-app", Slugify("My App!"))
}

// =============================================================================
// RepoName Tests
// =============================================================================

const testPageID = "1f0c2d9e-7a4b-4c1d-9e2f-0a1b2c3d4e5f"

func TestRepoName(t *testing.T) {
	assert.Equal(t, "alice-my-site-1f0c2d9e", RepoName("alice", "My Site", testPageID))
}

func TestRepoName_TitleMatchesSubdomain(t *testing.T) {
	assert.Equal(t, "alice-1f0c2d9e", RepoName("alice", "Alice", testPageID))
}

func TestRepoName_EmptySlug(t *testing.T) {
	assert.Equal(t, "alice-1f0c2d9e", RepoName("alice", "!!!", testPageID))
}

func TestRepoName_NoPageID(t *testing.T) {
	assert.Equal(t, "alice-my-site", RepoName("alice", "My Site", ""))
}

func TestRepoName_DistinctPerPage(t *testing.T) {
	first := RepoName("blog", "Portfolio", "aaaaaaaa-0000-0000-0000-000000000000")
	second := RepoName("blog", "Portfolio", "bbbbbbbb-0000-0000-0000-000000000000")

	assert.NotEqual(t, first, second)
}

func TestRepoName_Truncated(t *testing.T) {
	name := RepoName("alice", strings.Repeat("word ", 40), testPageID)

	assert.LessOrEqual(t, len(name), MaxRepoNameLength)
	assert.True(t, strings.HasPrefix(name, "alice-word-"))
	assert.True(t, strings.HasSuffix(name, "-1f0c2d9e"))
	assert.NotContains(t, name, "--")
}
