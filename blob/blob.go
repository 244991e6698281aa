// Package blob stores the raw bytes of uploaded chunks, addressed by chunk
// ID. Blobs are write-once: a chunk's payload never changes after it has
// been stored.
package blob

import (
	"context"
	"errors"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
)

// Store gives access to chunk payloads.
type Store interface {
	// Put stores data under chunkID. It fails with ErrBlobExists, without
	// modifying anything, if a blob is already stored under that ID.
	Put(ctx context.Context, chunkID string, data []byte) error
	// Get returns the payload of the chunk or ErrBlobNotFound.
	Get(ctx context.Context, chunkID string) ([]byte, error)
}
