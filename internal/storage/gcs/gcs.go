// Package gcs provides a Google Cloud Storage implementation of the report
// blob store, for deployments that serve the catalog out of a bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	ctstorage "github.com/cuketrack/cuketrack/internal/storage"
)

// Store implements storage.Store over a GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// Config holds configuration for the GCS store.
type Config struct {
	// Bucket is the GCS bucket name (required).
	Bucket string

	// Prefix is an optional object path prefix within the bucket.
	Prefix string

	// CredentialsFile is the path to a service account JSON key file.
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// Client is an optional pre-configured GCS client for testing.
	// If provided, CredentialsFile is ignored.
	Client *storage.Client
}

// New creates a new GCS store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs storage: bucket name is required")
	}

	client := cfg.Client
	if client == nil {
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			credsData, readErr := os.ReadFile(cfg.CredentialsFile)
			if readErr != nil {
				return nil, fmt.Errorf("gcs storage: failed to read credentials file: %w", readErr)
			}
			//nolint:staticcheck // SA1019: option.WithCredentialsJSON is deprecated, but still needed for service account support
			opts = append(opts, option.WithCredentialsJSON(credsData))
		}

		var err error
		client, err = storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs storage: failed to create client: %w", err)
		}
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Type returns the storage backend type identifier.
func (s *Store) Type() string {
	return "gcs"
}

// objectPath returns the full object path including the store prefix.
func (s *Store) objectPath(name string) string {
	return s.prefix + name
}

// List returns objects directly under prefix, using a delimiter query so
// nested pseudo-directories are not traversed.
func (s *Store) List(ctx context.Context, prefix string) ([]ctstorage.ObjectInfo, error) {
	query := &storage.Query{
		Prefix:    s.objectPath(prefix),
		Delimiter: "/",
	}

	var objects []ctstorage.ObjectInfo
	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs storage: list %q: %w", prefix, err)
		}
		// Synthetic prefix entries have an empty Name.
		if attrs.Name == "" {
			continue
		}
		objects = append(objects, ctstorage.ObjectInfo{
			Name:    strings.TrimPrefix(attrs.Name, s.prefix),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return objects, nil
}

// Get reads a blob in full.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(name))
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &ctstorage.ErrNotFound{Name: name}
		}
		return nil, fmt.Errorf("gcs storage: read %q: %w", name, err)
	}
	defer func() {
		_ = reader.Close() //nolint:errcheck // Best effort close
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gcs storage: read %q: %w", name, err)
	}
	return data, nil
}

// Put writes a blob. GCS object writes are atomic on Close, so readers see
// either the old or the new content.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(name))
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close() //nolint:errcheck // Write already failed
		return fmt.Errorf("gcs storage: write %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs storage: write %q: %w", name, err)
	}
	return nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(name))
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &ctstorage.ErrNotFound{Name: name}
		}
		return fmt.Errorf("gcs storage: delete %q: %w", name, err)
	}
	return nil
}

// Rename copies the blob to the new name and deletes the original. An
// existing target fails with ErrAlreadyExists before anything is touched.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	bkt := s.client.Bucket(s.bucket)
	dst := bkt.Object(s.objectPath(newName))

	if _, err := dst.Attrs(ctx); err == nil {
		return &ctstorage.ErrAlreadyExists{Name: newName}
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs storage: stat %q: %w", newName, err)
	}

	src := bkt.Object(s.objectPath(oldName))
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &ctstorage.ErrNotFound{Name: oldName}
		}
		return fmt.Errorf("gcs storage: rename %q to %q: %w", oldName, newName, err)
	}
	if err := src.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs storage: rename %q: remove source: %w", oldName, err)
	}
	return nil
}

// Copy duplicates a blob, replacing any existing target.
func (s *Store) Copy(ctx context.Context, srcName, dstName string) error {
	bkt := s.client.Bucket(s.bucket)
	src := bkt.Object(s.objectPath(srcName))
	dst := bkt.Object(s.objectPath(dstName))
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &ctstorage.ErrNotFound{Name: srcName}
		}
		return fmt.Errorf("gcs storage: copy %q to %q: %w", srcName, dstName, err)
	}
	return nil
}

// Stat returns object info without reading content.
func (s *Store) Stat(ctx context.Context, name string) (ctstorage.ObjectInfo, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(name))
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ctstorage.ObjectInfo{}, &ctstorage.ErrNotFound{Name: name}
		}
		return ctstorage.ObjectInfo{}, fmt.Errorf("gcs storage: stat %q: %w", name, err)
	}
	return ctstorage.ObjectInfo{
		Name:    strings.TrimPrefix(attrs.Name, s.prefix),
		Size:    attrs.Size,
		ModTime: attrs.Updated,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
