// Package output persists finished transcriptions.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/schema"
)

const filePrefix = "Transcription-"

// Sink writes transcription documents.
type Sink interface {
	WriteJSON(result *models.TranscriptionResult, path string) error
	WriteText(text, path string) error
}

// Paths returns the JSON and text file paths for audioPath inside dir.
func Paths(dir, audioPath string) (jsonPath, textPath string) {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(dir, filePrefix+base+".json"),
		filepath.Join(dir, filePrefix+base+".txt")
}

// FileSink writes documents to the local filesystem. JSON documents are
// checked against the transcription schema before they are written.
type FileSink struct {
	validator *schema.Validator
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a FileSink.
func NewFileSink() (*FileSink, error) {
	v, err := schema.New()
	if err != nil {
		return nil, err
	}
	return &FileSink{validator: v}, nil
}

// WriteJSON validates and writes result as indented JSON.
func (s *FileSink) WriteJSON(result *models.TranscriptionResult, path string) error {
	if result == nil {
		return fmt.Errorf("write %s: nil result", path)
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcription: %w", err)
	}
	if err := s.validator.ValidateBytes(payload); err != nil {
		return err
	}
	return writeFile(path, append(payload, '\n'))
}

// WriteText writes text as-is.
func (s *FileSink) WriteText(text, path string) error {
	return writeFile(path, []byte(text))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
