package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wms-platform/shipment-service/internal/domain"
)

// LabelStorage is an in-memory domain.LabelStorage.
type LabelStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string

	UploadErr   error
	DownloadErr error
	DeleteErr   error
}

func NewLabelStorage() *LabelStorage {
	return &LabelStorage{objects: make(map[string][]byte)}
}

func (s *LabelStorage) Upload(ctx context.Context, name string, content io.Reader, size int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UploadErr != nil {
		return s.UploadErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read label content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("label content is %d bytes, expected %d", len(data), size)
	}
	s.objects[name] = data
	return nil
}

func (s *LabelStorage) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DownloadErr != nil {
		return nil, s.DownloadErr
	}
	data, ok := s.objects[name]
	if !ok {
		return nil, &domain.BlobError{
			Operation:  "download",
			BlobName:   name,
			StatusCode: 404,
			ErrorCode:  "NoSuchKey",
			Err:        fmt.Errorf("object %q does not exist", name),
		}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *LabelStorage) DeleteIfExists(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, name)
	s.deleted = append(s.deleted, name)
	return nil
}

// Put stores an object directly.
func (s *LabelStorage) Put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
}

// Exists reports whether the object is stored.
func (s *LabelStorage) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok
}

// Len returns the number of stored objects.
func (s *LabelStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Deleted returns the names passed to DeleteIfExists, in call order.
func (s *LabelStorage) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}
