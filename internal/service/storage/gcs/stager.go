// Package gcs provides a Google Cloud Storage staging area.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"speech-batch-transcriber/internal/observability/logging"
	"speech-batch-transcriber/internal/service/credentials"
	storagepkg "speech-batch-transcriber/internal/service/storage"
)

// Config holds GCS client configuration.
type Config struct {
	CredentialsPath string

	// ProjectID owns newly created buckets. Defaults to the credentials' project.
	ProjectID string

	// Location for newly created buckets, e.g. "US" or "EU". Empty uses the service default.
	Location string
}

// Stager implements storage.Stager over a GCS client.
type Stager struct {
	client    *storage.Client
	projectID string
	location  string
	log       zerolog.Logger
}

var _ storagepkg.Stager = (*Stager)(nil)

// New creates a GCS stager.
func New(ctx context.Context, cfg Config) (*Stager, error) {
	creds, err := credentials.Load(ctx, cfg.CredentialsPath, storage.ScopeFullControl)
	if err != nil {
		return nil, err
	}

	c, err := storage.NewClient(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = creds.ProjectID
	}

	return &Stager{
		client:    c,
		projectID: projectID,
		location:  cfg.Location,
		log:       logging.WithComponent("gcs"),
	}, nil
}

// BucketExists reports whether bucket is visible to the credentials.
func (s *Stager) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrBucketNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("get bucket %s: %w", bucket, err)
	}
}

// CreateBucket creates bucket in the configured project.
func (s *Stager) CreateBucket(ctx context.Context, bucket string) error {
	if s.projectID == "" {
		return fmt.Errorf("create bucket %s: no project id in credentials or configuration", bucket)
	}
	attrs := &storage.BucketAttrs{Location: s.location}
	if err := s.client.Bucket(bucket).Create(ctx, s.projectID, attrs); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	s.log.Info().Str("bucket", bucket).Str("project", s.projectID).Msg("Bucket created")
	return nil
}

// Upload streams localPath into bucket/object.
func (s *Stager) Upload(ctx context.Context, bucket, object, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		w.ContentType = ct
	}

	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s to %s: %w", localPath, storagepkg.URI(bucket, object), err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload to %s: %w", storagepkg.URI(bucket, object), err)
	}

	s.log.Debug().Str("bucket", bucket).Str("object", object).Int64("bytes", n).Msg("Object uploaded")
	return storagepkg.URI(bucket, object), nil
}

// Delete removes bucket/object.
func (s *Stager) Delete(ctx context.Context, bucket, object string) error {
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", storagepkg.URI(bucket, object), err)
	}
	return nil
}

// Close releases the client.
func (s *Stager) Close() error {
	return s.client.Close()
}
