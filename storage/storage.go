// Package storage defines the object-store contract a repository
// transaction drives: small in-memory gets/puts, streamed file
// transfer through a per-transaction scratch directory, idempotent
// removal, and best-effort CDN invalidation. Concrete drivers live in
// storage/s3 (AWS S3 + CloudFront) and storage/memstorage (an
// in-process double used by tests).
package storage

import "context"

// Driver is one open storage session, scoped to a single transaction.
// It owns exactly one scratch directory.
type Driver interface {
	// Path is the local scratch directory root.
	Path() string

	// Join concatenates parts with the bucket's prefix, unless absolute
	// is true, in which case parts are joined as-is.
	Join(parts []string, absolute bool) string

	// TmpJoin concatenates parts with the scratch directory root.
	TmpJoin(parts ...string) string

	// PutObject uploads body to path (small artifacts held in memory).
	PutObject(ctx context.Context, path string, body []byte, absolute bool) error

	// GetObject downloads path into memory. Returns *repoerr.PackageNotFound
	// if the key is missing.
	GetObject(ctx context.Context, path string, absolute bool) ([]byte, error)

	// PutFile uploads the scratch-local file at relpath to the same
	// relative path in the store.
	PutFile(ctx context.Context, relpath string, absolute bool) error

	// GetFile downloads path into the scratch directory at dst (relpath
	// if dst is empty). Returns *repoerr.PackageNotFound if the key is
	// missing.
	GetFile(ctx context.Context, path, dst string, absolute bool) error

	// Remove deletes path from the store. It must succeed when the key
	// is already absent.
	Remove(ctx context.Context, path string, absolute bool) error

	// Exists reports whether path is present in the store.
	Exists(ctx context.Context, path string, absolute bool) (bool, error)

	// RemoveTmp removes relpath from the scratch directory if present.
	RemoveTmp(relpath string) error

	// InvalidateCache best-effort invalidates paths on a fronting CDN.
	// A no-op when no CDN is configured.
	InvalidateCache(ctx context.Context, paths []string) error

	// Close releases the scratch directory and any open client.
	Close() error
}

// Opener builds a Driver from a storage URL ("s3://bucket/prefix",
// "mem://name", ...). Kept as a func type (rather than a registry) so
// cmd/ entrypoints can wire exactly the schemes they support.
type Opener func(ctx context.Context, url string) (Driver, error)
