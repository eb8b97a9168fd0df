// Package storage provides a uniform object storage contract with
// local-filesystem and Google Cloud Storage implementations.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks an object missing from the backend. The workspace
// synchronizer treats this class as a warning; everything else is fatal.
var ErrNotFound = errors.New("storage: object not found")

// Backend is the object storage contract consumed by the engine. Keys are
// storage-relative paths such as "runs/<id>/scope.md".
type Backend interface {
	// PutBytes writes data under key, creating or replacing the object.
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
	// UploadFile copies a local file to key.
	UploadFile(ctx context.Context, key, localPath string) error
	// DownloadToPath copies the object at key into localPath.
	DownloadToPath(ctx context.Context, key, localPath string) error
	// ReadBytes returns the full content of the object at key.
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// SignedURL returns a time-limited URL for the object, when the backend
	// supports it.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
