// Package storage defines the staging area used to hand audio to the speech API.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Stager uploads local audio to a bucket and removes it afterwards.
type Stager interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error

	// Upload copies localPath to bucket/object and returns the object URI.
	Upload(ctx context.Context, bucket, object, localPath string) (string, error)

	Delete(ctx context.Context, bucket, object string) error
	Close() error
}

// URI returns the gs:// URI of an object.
func URI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// IsRemote reports whether location is a gs:// URI rather than a local path.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "gs://")
}
