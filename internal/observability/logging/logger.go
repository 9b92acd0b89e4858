// Package logging provides structured logging with zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.

	// AuditDir, when set, receives a JSON copy of every entry in a file
	// named audit<yyyyMMdd>.log.
	AuditDir string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init initializes the global zerolog logger. The returned closer releases
// the audit file and must be called before exit.
func Init(cfg Config) (io.Closer, error) {
	return initAt(cfg, os.Stderr, time.Now())
}

func initAt(cfg Config, out io.Writer, now time.Time) (io.Closer, error) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = out
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}

	var closer io.Closer = nopCloser{}
	if cfg.AuditDir != "" {
		f, err := openAuditFile(cfg.AuditDir, now)
		if err != nil {
			return nil, err
		}
		closer = f
		output = zerolog.MultiLevelWriter(output, f)
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	return closer, nil
}

// AuditFileName returns the audit log name for the day of t.
func AuditFileName(t time.Time) string {
	return "audit" + t.Format("20060102") + ".log"
}

func openAuditFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	path := filepath.Join(dir, AuditFileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, nil
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithJob returns a logger with transcription job context.
func WithJob(jobID, audioPath, bucket string) zerolog.Logger {
	return log.With().
		Str("component", "workflow").
		Str("jobId", jobID).
		Str("audioPath", audioPath).
		Str("bucket", bucket).
		Logger()
}
