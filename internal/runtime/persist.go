package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore persists database images as opaque byte blobs. The runtime
// never interprets the bytes; a store may put them on disk, in a cloud
// bucket, or anywhere else.
type BlobStore interface {
	// Load returns the stored image, or ok=false when nothing is
	// stored.
	Load(ctx context.Context) (data []byte, ok bool, err error)

	// Persist stores a new image, replacing any previous one.
	Persist(ctx context.Context, data []byte) error

	// Clear removes the stored image.
	Clear(ctx context.Context) error
}

// FileBlobStore keeps the image as a single file, written atomically.
type FileBlobStore struct {
	path string
}

func NewFileBlobStore(path string) *FileBlobStore {
	return &FileBlobStore{path: path}
}

func (s *FileBlobStore) Load(ctx context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *FileBlobStore) Persist(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (s *FileBlobStore) Clear(ctx context.Context) error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
