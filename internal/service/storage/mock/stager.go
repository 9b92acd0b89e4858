// Package mock provides an in-memory staging area for local runs and tests.
package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"speech-batch-transcriber/internal/service/storage"
)

// ErrClosed is returned by operations on a closed stager.
var ErrClosed = errors.New("stager closed")

// Failures injects errors into individual operations.
type Failures struct {
	BucketExistsErr error
	CreateErr       error
	UploadErr       error
	DeleteErr       error
}

// Stager keeps buckets and objects in memory.
type Stager struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	failures Failures
	closed   bool

	creates int
	uploads int
	deletes int
}

var _ storage.Stager = (*Stager)(nil)

// New creates an empty stager. Buckets listed in existing are pre-created.
func New(existing ...string) *Stager {
	s := &Stager{buckets: make(map[string]map[string][]byte)}
	for _, b := range existing {
		s.buckets[b] = make(map[string][]byte)
	}
	return s
}

// NewWithFailures creates an empty stager that fails as configured.
func NewWithFailures(f Failures, existing ...string) *Stager {
	s := New(existing...)
	s.failures = f
	return s
}

func (s *Stager) BucketExists(ctx context.Context, bucket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if s.failures.BucketExistsErr != nil {
		return false, s.failures.BucketExistsErr
	}
	_, ok := s.buckets[bucket]
	return ok, nil
}

func (s *Stager) CreateBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.creates++
	if s.failures.CreateErr != nil {
		return s.failures.CreateErr
	}
	if _, ok := s.buckets[bucket]; ok {
		return fmt.Errorf("bucket %s already exists", bucket)
	}
	s.buckets[bucket] = make(map[string][]byte)
	return nil
}

func (s *Stager) Upload(ctx context.Context, bucket, object, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	s.uploads++
	if s.failures.UploadErr != nil {
		return "", s.failures.UploadErr
	}
	objects, ok := s.buckets[bucket]
	if !ok {
		return "", fmt.Errorf("bucket %s does not exist", bucket)
	}
	objects[object] = data
	return storage.URI(bucket, object), nil
}

func (s *Stager) Delete(ctx context.Context, bucket, object string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.deletes++
	if s.failures.DeleteErr != nil {
		return s.failures.DeleteErr
	}
	objects, ok := s.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	if _, ok := objects[object]; !ok {
		return fmt.Errorf("object %s not found", storage.URI(bucket, object))
	}
	delete(objects, object)
	return nil
}

func (s *Stager) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Objects returns the names of objects currently held in bucket.
func (s *Stager) Objects(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.buckets[bucket] {
		names = append(names, name)
	}
	return names
}

// Creates returns the number of CreateBucket calls.
func (s *Stager) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Uploads returns the number of Upload calls that reached the store.
func (s *Stager) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Deletes returns the number of Delete calls.
func (s *Stager) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}
