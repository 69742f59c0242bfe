// Package blobstore keeps uploaded scans and serves them back under
// /uploads. Blobs are addressed by a generated name of the form
// <hex id>_<sanitized original name>.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound         = errors.New("blob not found")
	ErrFileTooLarge         = errors.New("file exceeds maximum allowed size")
	ErrUnsupportedExtension = errors.New("Unsupported file type")
	ErrMissingFileName      = errors.New("No selected file")
	ErrInvalidName          = errors.New("invalid blob name")
)

// DefaultMaxFileSize matches the default request body limit.
const DefaultMaxFileSize = 15 << 20

// AllowedExtensions lists the scan formats the OCR pipeline accepts.
var AllowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
}

// Allowed reports whether the file name carries an accepted extension.
func Allowed(fileName string) bool {
	_, ok := AllowedExtensions[strings.ToLower(path.Ext(fileName))]
	return ok
}

// ContentTypeFor derives the MIME type from the extension.
func ContentTypeFor(fileName string) string {
	if ct, ok := AllowedExtensions[strings.ToLower(path.Ext(fileName))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	Hash         string    `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by,omitempty"`
}

// URL is the public path the file is served from.
func (m *BlobMetadata) URL() string {
	return "/uploads/" + m.Name
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Put(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Open(ctx context.Context, name string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, name string) error
}

// prepare validates the upload and fills the generated name. It reads the
// whole payload because OCR needs the bytes anyway.
func prepare(meta BlobMetadata, content io.Reader, maxSize int64) (BlobMetadata, []byte, error) {
	if strings.TrimSpace(meta.OriginalName) == "" {
		return meta, nil, ErrMissingFileName
	}
	if !Allowed(meta.OriginalName) {
		return meta, nil, ErrUnsupportedExtension
	}

	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return meta, nil, ErrFileTooLarge
	}

	sum := sha256.Sum256(data)
	meta.Name = strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + SanitizeFileName(meta.OriginalName)
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sum)
	meta.CreatedAt = time.Now().UTC()
	if meta.ContentType == "" || meta.ContentType == "application/octet-stream" {
		meta.ContentType = ContentTypeFor(meta.OriginalName)
	}
	return meta, data, nil
}

// validName rejects anything that could escape the store's namespace.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe BlobStore for tests and development.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	maxSize int64
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs:   make(map[string]*storedBlob),
		maxSize: DefaultMaxFileSize,
	}
}

func (s *InMemoryBlobStore) Put(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.Name] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Open(_ context.Context, name string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	b, ok := s.blobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := b.metadata
	return io.NopCloser(bytes.NewReader(b.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[name]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, name)
	return nil
}
