// Package local provides a local filesystem implementation of the report
// blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cuketrack/cuketrack/internal/storage"
)

// Store implements storage.Store over a directory of files.
type Store struct {
	basePath string
}

// Config holds configuration for the local store.
type Config struct {
	// BasePath is the directory holding report blobs and catalog artifacts.
	BasePath string
}

// New creates a local filesystem store rooted at cfg.BasePath.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage: base path is required")
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local storage: directory does not exist: %s", cfg.BasePath)
		}
		return nil, fmt.Errorf("local storage: cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local storage: not a directory: %s", cfg.BasePath)
	}

	return &Store{basePath: cfg.BasePath}, nil
}

// Type returns the storage backend type identifier.
func (s *Store) Type() string {
	return "local"
}

// BasePath returns the directory the store is rooted at.
func (s *Store) BasePath() string {
	return s.basePath
}

// resolve maps an object name to a filesystem path, rejecting names that
// would escape the base directory.
func (s *Store) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("local storage: empty object name")
	}
	full := filepath.Clean(filepath.Join(s.basePath, filepath.FromSlash(name)))
	if !strings.HasPrefix(full, filepath.Clean(s.basePath)) {
		return "", fmt.Errorf("local storage: access denied: path outside base directory")
	}
	return full, nil
}

// List returns the regular files directly under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	dir := s.basePath
	if prefix != "" {
		resolved, err := s.resolve(strings.TrimSuffix(prefix, "/"))
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("local storage: list %q: %w", prefix, err)
	}

	var objects []storage.ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("local storage: stat %q: %w", entry.Name(), err)
		}
		name := entry.Name()
		if prefix != "" {
			name = strings.TrimSuffix(prefix, "/") + "/" + name
		}
		objects = append(objects, storage.ObjectInfo{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}

// Get reads a blob in full.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	full, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &storage.ErrNotFound{Name: name}
		}
		return nil, fmt.Errorf("local storage: read %q: %w", name, err)
	}
	return data, nil
}

// Put writes a blob via a temp file in the same directory followed by a
// rename, so readers never observe a partial write.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local storage: mkdir for %q: %w", name, err)
	}

	tmp := filepath.Join(filepath.Dir(full), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("local storage: write %q: %w", name, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("local storage: replace %q: %w", name, err)
	}
	return nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return &storage.ErrNotFound{Name: name}
		}
		return fmt.Errorf("local storage: delete %q: %w", name, err)
	}
	return nil
}

// Rename moves a blob without clobbering: an existing target fails with
// ErrAlreadyExists.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	oldFull, err := s.resolve(oldName)
	if err != nil {
		return err
	}
	newFull, err := s.resolve(newName)
	if err != nil {
		return err
	}

	if _, err := os.Stat(newFull); err == nil {
		return &storage.ErrAlreadyExists{Name: newName}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("local storage: stat %q: %w", newName, err)
	}

	if _, err := os.Stat(oldFull); err != nil {
		if os.IsNotExist(err) {
			return &storage.ErrNotFound{Name: oldName}
		}
		return fmt.Errorf("local storage: stat %q: %w", oldName, err)
	}

	if err := os.Rename(oldFull, newFull); err != nil {
		return fmt.Errorf("local storage: rename %q to %q: %w", oldName, newName, err)
	}
	return nil
}

// Copy duplicates a blob, replacing any existing target.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	data, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	return s.Put(ctx, dst, data)
}

// Stat returns object info without reading content.
func (s *Store) Stat(ctx context.Context, name string) (storage.ObjectInfo, error) {
	full, err := s.resolve(name)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectInfo{}, &storage.ErrNotFound{Name: name}
		}
		return storage.ObjectInfo{}, fmt.Errorf("local storage: stat %q: %w", name, err)
	}
	if info.IsDir() {
		return storage.ObjectInfo{}, &storage.ErrNotFound{Name: name}
	}
	return storage.ObjectInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	return nil
}
