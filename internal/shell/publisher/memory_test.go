package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_Bytes(t *testing.T) {
	b, err := File{Path: "a.txt", Content: "hello"}.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	b, err = File{Path: "a.txt", Content: "aGVsbG8=", Encoding: "BASE64"}.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	_, err = File{Path: "a.txt", Content: "!!", Encoding: EncodingBase64}.Bytes()
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	_, err = File{Path: "a.txt", Content: "x", Encoding: "latin-1"}.Bytes()
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	size, err := File{Path: "a.txt", Content: "aGVsbG8=", Encoding: EncodingBase64}.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestMemoryPublisher_Flow(t *testing.T) {
	m := NewMemoryPublisher("octo")
	ctx := context.Background()

	pub, err := m.For(ctx, "any")
	require.NoError(t, err)

	repo, err := pub.CreateRepository(ctx, "site", "desc")
	require.NoError(t, err)
	assert.Equal(t, "octo/site", repo.FullName)

	_, err = pub.CreateRepository(ctx, "site", "desc")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	ref, err := pub.UploadFiles(ctx, "site", []File{{Path: "index.html", Content: "x"}})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	url, err := pub.EnableStaticHosting(ctx, "site", "site.codeer.org")
	require.NoError(t, err)
	assert.Equal(t, "https://octo.github.io/site/", url)

	state, ok := m.Repo("site")
	require.True(t, ok)
	assert.True(t, state.HostingOn)
	assert.Equal(t, "site.codeer.org", state.CustomDomain)
	assert.Equal(t, []byte("x"), state.Files["index.html"])

	require.NoError(t, pub.DeleteRepository(ctx, "site"))
	assert.Empty(t, m.RepoNames())
	assert.Equal(t, []string{"create:site", "create:site", "upload:site", "enable:site", "delete:site"}, m.Calls())
}

func TestMemoryPublisher_FailureInjection(t *testing.T) {
	m := NewMemoryPublisher("octo")
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailUpload = boom
	_, err := m.CreateRepository(ctx, "site", "")
	require.NoError(t, err)
	_, err = m.UploadFiles(ctx, "site", []File{{Path: "index.html"}})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryPublisher_CustomDomainMovesAfterDisable(t *testing.T) {
	m := NewMemoryPublisher("octo")
	ctx := context.Background()

	for _, name := range []string{"old", "new"} {
		_, err := m.CreateRepository(ctx, name, "")
		require.NoError(t, err)
	}

	_, err := m.EnableStaticHosting(ctx, "old", "blog.codeer.org")
	require.NoError(t, err)

	_, err = m.EnableStaticHosting(ctx, "new", "blog.codeer.org")
	assert.ErrorIs(t, err, ErrDomainInUse)

	require.NoError(t, m.DisableStaticHosting(ctx, "old"))
	state, ok := m.Repo("old")
	require.True(t, ok)
	assert.False(t, state.HostingOn)
	assert.Empty(t, state.CustomDomain)

	_, err = m.EnableStaticHosting(ctx, "new", "blog.codeer.org")
	require.NoError(t, err)

	// Disabling a repository that does not exist is a no-op.
	assert.NoError(t, m.DisableStaticHosting(ctx, "ghost"))
}
