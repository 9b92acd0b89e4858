package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-batch-transcriber/internal/config"
	"speech-batch-transcriber/internal/models"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{}
	registerFlags(cmd.Flags())
	return cmd
}

func TestCLIOverrides(t *testing.T) {
	tmpDir := t.TempDir()

	configYAML := `audioPath: /data/from-file.wav
speech:
  languageCode: fr-FR
  maxSpeakers: 3
storage:
  bucket: file-bucket
output:
  dir: /data/out
`
	configFile := filepath.Join(tmpDir, "transcriber.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(configYAML), 0o644))

	t.Run("no_cli_flags_uses_file_values", func(t *testing.T) {
		cmd := newTestCommand()
		require.NoError(t, cmd.Flags().Set("config", configFile))

		cfg, err := loadConfiguration(cmd.Flags())
		require.NoError(t, err)

		assert.Equal(t, "/data/from-file.wav", cfg.AudioPath)
		assert.Equal(t, "fr-FR", cfg.Speech.LanguageCode)
		assert.Equal(t, "file-bucket", cfg.Storage.Bucket)
		assert.Equal(t, 3, cfg.Speech.MaxSpeakers)
		assert.True(t, cfg.Speech.Diarization)
		assert.Equal(t, config.DefaultPollInterval, cfg.Speech.PollInterval)
	})

	t.Run("cli_flags_override_file_values", func(t *testing.T) {
		cmd := newTestCommand()
		require.NoError(t, cmd.Flags().Set("config", configFile))
		require.NoError(t, cmd.Flags().Set("audio-path", "/tmp/call.flac"))
		require.NoError(t, cmd.Flags().Set("bucket", "cli-bucket"))
		require.NoError(t, cmd.Flags().Set("language-code", "en-GB"))
		require.NoError(t, cmd.Flags().Set("max-speakers", "5"))
		require.NoError(t, cmd.Flags().Set("poll-interval", "250ms"))
		require.NoError(t, cmd.Flags().Set("no-diarization", "true"))

		cfg, err := loadConfiguration(cmd.Flags())
		require.NoError(t, err)

		assert.Equal(t, "/tmp/call.flac", cfg.AudioPath)
		assert.Equal(t, "cli-bucket", cfg.Storage.Bucket)
		assert.Equal(t, "en-GB", cfg.Speech.LanguageCode)
		assert.Equal(t, 5, cfg.Speech.MaxSpeakers)
		assert.Equal(t, 250*time.Millisecond, cfg.Speech.PollInterval)
		assert.False(t, cfg.Speech.Diarization)
		assert.True(t, cfg.Speech.Punctuation)
		assert.Equal(t, "/data/out", cfg.Output.Dir)
	})
}

func TestApplyFlags_Defaults(t *testing.T) {
	cmd := newTestCommand()
	cfg := config.Defaults()

	require.NoError(t, cmd.Flags().Set("audio-path", "call.wav"))
	require.NoError(t, applyFlags(cmd.Flags(), cfg))

	assert.Equal(t, "call.wav", cfg.AudioPath)
	assert.Equal(t, config.DefaultBucket, cfg.Storage.Bucket)
	assert.Equal(t, config.DefaultLanguageCode, cfg.Speech.LanguageCode)
	assert.False(t, cfg.Storage.Direct)
}

func TestApplyFlags_ProvidersAndModes(t *testing.T) {
	cmd := newTestCommand()
	cfg := config.Defaults()

	for name, value := range map[string]string{
		"credentials":      "/secrets/sa.json",
		"speech-provider":  "mock",
		"storage-provider": "mock",
		"direct":           "true",
		"no-punctuation":   "true",
		"metrics-addr":     ":9090",
		"log-level":        "debug",
		"log-format":       "json",
		"output-dir":       "/tmp/out",
		"min-speakers":     "2",
	} {
		require.NoError(t, cmd.Flags().Set(name, value), name)
	}
	require.NoError(t, applyFlags(cmd.Flags(), cfg))

	assert.Equal(t, "/secrets/sa.json", cfg.Google.CredentialsPath)
	assert.Equal(t, config.ProviderMock, cfg.Speech.Provider)
	assert.Equal(t, config.ProviderMock, cfg.Storage.Provider)
	assert.True(t, cfg.Storage.Direct)
	assert.False(t, cfg.Speech.Punctuation)
	assert.True(t, cfg.Speech.Diarization)
	assert.Equal(t, ":9090", cfg.Observability.MetricsAddr)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
	assert.Equal(t, 2, cfg.Speech.MinSpeakers)
}

func TestLoadConfiguration_BadFile(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))

	_, err := loadConfiguration(cmd.Flags())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
