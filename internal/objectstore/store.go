// Package objectstore implements the object store the rest of this module
// treats as its single source of truth for job state, checkpoints, and
// liveness: nodes and the supervisor never talk to each other directly,
// they only read and write keys here and infer everything else from
// "updated_at" metadata, per the system design this module is grounded on.
package objectstore

import (
	"context"
	"time"
)

// Metadata is the subset of object attributes callers reason about.
// Updated is the sole liveness/freshness signal in this design: nothing in
// this module trusts wall-clock claims embedded in an object's body over
// the store's own Updated timestamp.
type Metadata struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Store is the object-store contract every other component depends on.
// All operations are keyed by an opaque string path rooted at a bucket;
// there are no directories, only prefixes.
type Store interface {
	// Upload writes body to key, overwriting any existing object.
	Upload(ctx context.Context, key string, body []byte) error

	// UploadIfAbsent writes body to key only if key does not already exist.
	// It is a no-op (not an error) when the key is already present, mirroring
	// the original upload(..., overwrite=False) contract.
	UploadIfAbsent(ctx context.Context, key string, body []byte) error

	// Download reads the full contents of key.
	Download(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes a single key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// List returns metadata for every object under prefix.
	List(ctx context.Context, prefix string) ([]Metadata, error)

	// GetMetadata returns metadata for a single key.
	GetMetadata(ctx context.Context, key string) (Metadata, error)

	// Touch refreshes key's Updated timestamp without changing its body.
	// GCSStore throttles redundant touches (at most once per 5 seconds per
	// key) so a tight heartbeat loop doesn't hammer the store; MemStore
	// applies every touch.
	Touch(ctx context.Context, key string) error
}
