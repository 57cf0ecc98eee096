package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const fileFormatVersion = 1

type fileDocument struct {
	Version int      `json:"version"`
	Queues  Snapshot `json:"queues"`
}

// FileStore persists live token records as a single JSON document.
type FileStore struct {
	path string
}

// OpenFile returns a FileStore backed by path. The file need not exist yet;
// its parent directory is created if missing.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Close is a no-op; FileStore holds no open handles between calls.
func (f *FileStore) Close() error { return nil }

// LoadAll reads the persisted snapshot. A missing file yields an empty Snapshot.
func (f *FileStore) LoadAll(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(Snapshot), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load tokens: parse %s: %w", f.path, err)
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("load tokens: unsupported format version %d", doc.Version)
	}
	if doc.Queues == nil {
		doc.Queues = make(Snapshot)
	}
	return doc.Queues, nil
}

// SaveAll writes snap to a temp file beside the target, syncs it and renames
// it into place, so readers observe either the old or the new document.
func (f *FileStore) SaveAll(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.validate(); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}

	queues := make(Snapshot, len(snap))
	for _, source := range snap.Sources() {
		queues[source] = snap[source]
	}
	data, err := json.MarshalIndent(fileDocument{Version: fileFormatVersion, Queues: queues}, "", "  ")
	if err != nil {
		return fmt.Errorf("save tokens: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save tokens: create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save tokens: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save tokens: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save tokens: close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("save tokens: rename: %w", err)
	}
	committed = true
	return nil
}
