// Package credentials loads Google service credentials shared by the speech
// and storage clients.
package credentials

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"

	"speech-batch-transcriber/internal/models"
)

// Load reads a credentials JSON file, or falls back to Application Default
// Credentials when path is empty.
func Load(ctx context.Context, path string, scopes ...string) (*google.Credentials, error) {
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, models.NewError(models.KindConfiguration, "find default credentials", err)
		}
		return creds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "read credentials", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "parse credentials",
			fmt.Errorf("%s: %w", path, err))
	}
	return creds, nil
}
