package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"speech-batch-transcriber/internal/app"
	"speech-batch-transcriber/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "speech-batch-transcriber",
	Short:         "Transcribe an audio file into speaker-attributed text",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `speech-batch-transcriber stages a local WAV or FLAC file in Cloud Storage,
runs a long-running Google Speech-to-Text recognition with speaker
diarization, and writes Transcription-<name>.json and .txt next to the
audio (or into --output-dir). The staged object is always deleted.

Settings are read from built-in defaults, then --config, then the
environment; flags given on the command line win.`,
	Example: `  speech-batch-transcriber -c creds.json -a call.wav
  speech-batch-transcriber -a call.flac -b my-bucket -l de-DE -o out/
  speech-batch-transcriber -a call.wav --speech-provider mock --storage-provider mock`,
	RunE: runTranscribe,
}

func init() {
	registerFlags(rootCmd.Flags())
}

func registerFlags(fs *pflag.FlagSet) {
	fs.StringP("credentials", "c", "", "Path to the Google service account JSON")
	fs.StringP("audio-path", "a", "", "Path to the WAV or FLAC file to transcribe (required)")
	fs.StringP("bucket", "b", config.DefaultBucket, "Bucket used to stage the audio")
	fs.StringP("language-code", "l", config.DefaultLanguageCode, "BCP-47 language code of the audio")
	fs.StringP("output-dir", "o", "", "Directory for the transcript files (default: next to the audio)")
	fs.String("config", "", "Path to a YAML configuration file")
	fs.Bool("direct", false, "Send the audio inline instead of staging it in a bucket")
	fs.Bool("no-diarization", false, "Disable speaker diarization")
	fs.Bool("no-punctuation", false, "Disable automatic punctuation")
	fs.Int("min-speakers", 0, "Minimum expected speaker count (0 = provider default)")
	fs.Int("max-speakers", 0, "Maximum expected speaker count (0 = provider default)")
	fs.Duration("poll-interval", config.DefaultPollInterval, "Delay between operation status checks")
	fs.String("speech-provider", config.ProviderGoogle, "Speech provider: google or mock")
	fs.String("storage-provider", config.ProviderGCS, "Storage provider: gcs or mock")
	fs.String("metrics-addr", "", "Serve /metrics and /v1/status on this address while running")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "console", "Log format: console or json")
}

func runTranscribe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfiguration(cmd.Flags())
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := application.Run(ctx)
	if err != nil {
		return err
	}

	if report.JSONPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Transcript written to %s\n", report.JSONPath)
	}
	if report.TextPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Speaker text written to %s\n", report.TextPath)
	}
	return nil
}

// loadConfiguration reads the file named by --config (or defaults plus
// environment) and overlays the flags that were set explicitly.
func loadConfiguration(fs *pflag.FlagSet) (*config.Configuration, error) {
	path, _ := fs.GetString("config")

	cfg := config.Load()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := applyFlags(fs, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies only the changed flags into cfg so that defaults shown
// in --help never mask file or environment settings.
func applyFlags(fs *pflag.FlagSet, cfg *config.Configuration) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}
	// negated flags clear the setting they name
	negated := func(name string, dst *bool) {
		if err == nil && fs.Changed(name) {
			var v bool
			if v, err = fs.GetBool(name); err == nil && v {
				*dst = false
			}
		}
	}

	str("credentials", &cfg.Google.CredentialsPath)
	str("audio-path", &cfg.AudioPath)
	str("bucket", &cfg.Storage.Bucket)
	str("language-code", &cfg.Speech.LanguageCode)
	str("output-dir", &cfg.Output.Dir)
	str("speech-provider", &cfg.Speech.Provider)
	str("storage-provider", &cfg.Storage.Provider)
	str("metrics-addr", &cfg.Observability.MetricsAddr)
	str("log-level", &cfg.Observability.LogLevel)
	str("log-format", &cfg.Observability.LogFormat)
	integer("min-speakers", &cfg.Speech.MinSpeakers)
	integer("max-speakers", &cfg.Speech.MaxSpeakers)
	negated("no-diarization", &cfg.Speech.Diarization)
	negated("no-punctuation", &cfg.Speech.Punctuation)

	if err == nil && fs.Changed("direct") {
		cfg.Storage.Direct, err = fs.GetBool("direct")
	}
	if err == nil && fs.Changed("poll-interval") {
		var d time.Duration
		if d, err = fs.GetDuration("poll-interval"); err == nil {
			cfg.Speech.PollInterval = d
		}
	}
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
