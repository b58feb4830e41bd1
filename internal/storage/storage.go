// Package storage defines the blob store interface backing the report
// catalog. The store is a flat key-value space keyed by filename; slash
// separators form pseudo-directories (used for the backup subtree).
package storage

import (
	"context"
	"time"
)

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	// Name is the object key, including any pseudo-directory prefix.
	Name string

	// Size is the blob size in bytes.
	Size int64

	// ModTime is the last modification time of the blob.
	ModTime time.Time
}

// Store is a blob storage backend for report files and catalog artifacts.
// Implementations must make Put an atomic replace: a concurrent reader sees
// either the old or the new content, never a partial write.
type Store interface {
	// Type returns the backend type identifier (e.g., "local", "gcs").
	Type() string

	// List returns the objects directly under prefix, non-recursively.
	// An empty prefix lists the top level.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Get reads a blob in full. Returns *ErrNotFound when absent.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes a blob, atomically replacing any existing content.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Returns *ErrNotFound when absent.
	Delete(ctx context.Context, name string) error

	// Rename moves a blob to a new name. Returns *ErrAlreadyExists when the
	// target exists; renames never clobber.
	Rename(ctx context.Context, oldName, newName string) error

	// Copy duplicates a blob under a new name, replacing any existing target.
	Copy(ctx context.Context, src, dst string) error

	// Stat returns object info without reading content. Returns *ErrNotFound
	// when absent.
	Stat(ctx context.Context, name string) (ObjectInfo, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ErrNotFound is returned when a requested blob does not exist.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return "blob not found: " + e.Name
}

// ErrAlreadyExists is returned when a rename would overwrite an existing
// blob. The caller decides whether that is a collision or a no-op.
type ErrAlreadyExists struct {
	Name string
}

func (e *ErrAlreadyExists) Error() string {
	return "blob already exists: " + e.Name
}
