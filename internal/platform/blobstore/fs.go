package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FSBlobStore writes blobs as plain files under a directory so they survive
// restarts and can be served directly.
type FSBlobStore struct {
	dir     string
	maxSize int64
}

// NewFSBlobStore creates dir if needed.
func NewFSBlobStore(dir string, maxSize int64) (*FSBlobStore, error) {
	if dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload folder %s: %w", dir, err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &FSBlobStore{dir: dir, maxSize: maxSize}, nil
}

func (s *FSBlobStore) Dir() string { return s.dir }

func (s *FSBlobStore) Put(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(s.dir, meta.Name)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return &meta, nil
}

func (s *FSBlobStore) Open(_ context.Context, name string) (io.ReadCloser, *BlobMetadata, error) {
	if !validName(name) {
		return nil, nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat blob: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrBlobNotFound
	}
	return f, &BlobMetadata{
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        info.Size(),
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FSBlobStore) Delete(_ context.Context, name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}
