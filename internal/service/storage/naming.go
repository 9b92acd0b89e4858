package storage

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NameFunc derives a staged object name from a local file path.
type NameFunc func(localPath string) string

// ObjectName returns a fresh random object name that keeps the file's extension.
func ObjectName(localPath string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(localPath))
}
