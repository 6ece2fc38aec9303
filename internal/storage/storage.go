// Package storage defines the blob storage abstraction used for media assets.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Provider stores immutable blobs addressed by key.
type Provider interface {
	// Put stores the blob read from r under key, overwriting any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Open returns a reader for the blob at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
