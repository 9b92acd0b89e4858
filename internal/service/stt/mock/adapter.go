// Package mock provides a scripted long-running STT recognizer for testing
// and credential-free dry runs. Each poll reports the next scripted
// percentage; the last scripted poll completes the job.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/service/stt"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("mock recognizer is closed")

// Script describes how a simulated job progresses.
type Script struct {
	// Progress lists the percentage reported by each poll. The job is done
	// on the last entry. An empty list completes the job at submission.
	Progress []int

	// Words is returned when the job completes without a fault.
	Words []models.RecognizedWord

	// FaultMessage, when set, makes the job finish with a remote fault.
	FaultMessage string

	// SubmitErr fails the submission.
	SubmitErr error

	// PollErr is returned by the PollErrAt-th poll (1-based). Zero disables it.
	PollErr   error
	PollErrAt int
}

// DefaultScript is a short two-speaker conversation used for dry runs.
var DefaultScript = Script{
	Progress: []int{0, 20, 45, 45, 80, 100},
	Words: []models.RecognizedWord{
		{Text: "I", SpeakerTag: 1},
		{Text: "want", SpeakerTag: 1},
		{Text: "to", SpeakerTag: 1},
		{Text: "cancel", SpeakerTag: 1},
		{Text: "my", SpeakerTag: 1},
		{Text: "subscription", SpeakerTag: 1},
		{Text: "Can", SpeakerTag: 2},
		{Text: "you", SpeakerTag: 2},
		{Text: "confirm", SpeakerTag: 2},
		{Text: "your", SpeakerTag: 2},
		{Text: "account", SpeakerTag: 2},
		{Text: "uh", SpeakerTag: 0},
		{Text: "Yes", SpeakerTag: 1},
		{Text: "please", SpeakerTag: 1},
		{Text: "go", SpeakerTag: 1},
		{Text: "ahead", SpeakerTag: 1},
	},
}

type handle string

func (h handle) Name() string { return string(h) }

// Adapter implements stt.Recognizer from a Script.
type Adapter struct {
	mu       sync.Mutex
	script   Script
	name     string
	submits  int
	polls    int
	requests []models.RecognitionRequest
	closed   bool
}

// New creates a mock recognizer running DefaultScript.
func New() *Adapter {
	return NewWithScript(DefaultScript)
}

// NewWithScript creates a mock recognizer running s.
func NewWithScript(s Script) *Adapter {
	return &Adapter{script: s}
}

// Submit records the request and starts the simulated job.
func (a *Adapter) Submit(ctx context.Context, req models.RecognitionRequest) (stt.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.Status{}, ErrClosed
	}
	a.submits++
	a.requests = append(a.requests, req)
	if a.script.SubmitErr != nil {
		return stt.Status{}, a.script.SubmitErr
	}

	a.name = fmt.Sprintf("mock-operation-%d", a.submits)
	if len(a.script.Progress) == 0 {
		return a.terminal(), nil
	}
	return stt.Status{Handle: handle(a.name)}, nil
}

// PollOnce reports the next scripted percentage.
func (a *Adapter) PollOnce(ctx context.Context, h stt.Handle) (stt.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.Status{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return stt.Status{}, err
	}
	if h == nil || h.Name() != a.name {
		return stt.Status{}, fmt.Errorf("unknown operation %v", h)
	}

	a.polls++
	if a.script.PollErrAt > 0 && a.polls == a.script.PollErrAt {
		return stt.Status{}, a.script.PollErr
	}

	idx := a.polls - 1
	if idx >= len(a.script.Progress)-1 {
		return a.terminal(), nil
	}
	return stt.Status{
		Handle:          handle(a.name),
		ProgressPercent: a.script.Progress[idx],
	}, nil
}

func (a *Adapter) terminal() stt.Status {
	st := stt.Status{
		Handle:          handle(a.name),
		ProgressPercent: 100,
		Done:            true,
	}
	if n := len(a.script.Progress); n > 0 {
		st.ProgressPercent = a.script.Progress[n-1]
	}
	if a.script.FaultMessage != "" {
		st.FaultMessage = a.script.FaultMessage
		return st
	}
	st.Words = append([]models.RecognizedWord(nil), a.script.Words...)
	return st
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Submits returns the number of Submit calls.
func (a *Adapter) Submits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submits
}

// Polls returns the number of PollOnce calls that reached the script.
func (a *Adapter) Polls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

// Requests returns a copy of the submitted requests.
func (a *Adapter) Requests() []models.RecognitionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.RecognitionRequest(nil), a.requests...)
}
