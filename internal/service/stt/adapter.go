// Package stt defines the interface for long-running Speech-to-Text providers.
package stt

import (
	"context"

	"speech-batch-transcriber/internal/models"
)

// Handle identifies an in-flight remote recognition job.
type Handle interface {
	// Name returns the provider's operation name.
	Name() string
}

// Status is the state of a remote job as observed by one call.
type Status struct {
	Handle          Handle
	ProgressPercent int
	Done            bool

	// FaultMessage is set when the job finished with a remote error.
	FaultMessage string

	// Words holds the recognized words once Done without a fault,
	// ordered by time of utterance.
	Words []models.RecognizedWord
}

// Faulted reports whether the job finished with a remote error.
func (s Status) Faulted() bool {
	return s.Done && s.FaultMessage != ""
}

// Recognizer defines the interface for long-running STT providers (Google, mock).
type Recognizer interface {
	// Submit starts a recognition job. The returned status may already be Done.
	Submit(ctx context.Context, req models.RecognitionRequest) (Status, error)

	// PollOnce performs exactly one status round trip for the job.
	PollOnce(ctx context.Context, h Handle) (Status, error)

	// Close releases the provider's resources.
	Close() error
}
