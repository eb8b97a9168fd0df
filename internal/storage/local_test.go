package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_PutReadRoundTrip(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.PutBytes(ctx, "runs/abc/scope.md", []byte("# Scope"), "text/markdown"))

	data, err := backend.ReadBytes(ctx, "runs/abc/scope.md")
	require.NoError(t, err)
	assert.Equal(t, "# Scope", string(data))
}

func TestLocal_DownloadToPath(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.PutBytes(ctx, "inputs/notes.txt", []byte("notes"), ""))

	dst := filepath.Join(t.TempDir(), "sub", "notes.txt")
	require.NoError(t, backend.DownloadToPath(ctx, "inputs/notes.txt", dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "notes", string(content))
}

func TestLocal_MissingObjectIsErrNotFound(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	err = backend.DownloadToPath(ctx, "missing/key.txt", filepath.Join(t.TempDir(), "out.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = backend.ReadBytes(ctx, "missing/key.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_UploadFileAndList(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "local.txt")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))
	require.NoError(t, backend.UploadFile(ctx, "projects/p1/local.txt", src))
	require.NoError(t, backend.PutBytes(ctx, "projects/p2/other.txt", []byte("x"), ""))

	keys, err := backend.List(ctx, "projects/p1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/p1/local.txt"}, keys)
}

func TestLocal_DeleteIsIdempotent(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.PutBytes(ctx, "a.txt", []byte("a"), ""))
	require.NoError(t, backend.Delete(ctx, "a.txt"))
	require.NoError(t, backend.Delete(ctx, "a.txt"))
}

func TestLocal_SignedURL(t *testing.T) {
	backend, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.PutBytes(ctx, "doc.md", []byte("d"), ""))

	url, err := backend.SignedURL(ctx, "doc.md", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "file://")

	_, err = backend.SignedURL(ctx, "nope.md", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}
