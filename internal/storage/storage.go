// Package storage defines the blob store used by the archive sink. Backends
// live in subpackages: gcs, local and memory.
package storage

import (
	"context"
	"io"
)

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
