package workflow

import (
	"errors"
	"fmt"
	"sync"
)

// State is a step of the transcription workflow.
type State int

const (
	StateValidating State = iota
	StateStagingAudio
	StateTranscribing
	StateAssembling
	StatePersisting
	StateCleaningUp
	StateDone
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateValidating:
		return "VALIDATING"
	case StateStagingAudio:
		return "STAGING_AUDIO"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateAssembling:
		return "ASSEMBLING"
	case StatePersisting:
		return "PERSISTING"
	case StateCleaningUp:
		return "CLEANING_UP"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for DONE and FAILED.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// ErrInvalidTransition is returned for a transition the table does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed successors of each non-terminal state.
// FAILED is reachable from every non-terminal state through Fail.
//
//	VALIDATING → STAGING_AUDIO → TRANSCRIBING → ASSEMBLING → PERSISTING → CLEANING_UP → DONE
//
// Direct runs skip STAGING_AUDIO and CLEANING_UP. A staged run whose
// transcription fails goes TRANSCRIBING → CLEANING_UP → FAILED.
var transitions = map[State][]State{
	StateValidating:   {StateStagingAudio, StateTranscribing},
	StateStagingAudio: {StateTranscribing},
	StateTranscribing: {StateAssembling, StateCleaningUp},
	StateAssembling:   {StatePersisting},
	StatePersisting:   {StateCleaningUp, StateDone},
	StateCleaningUp:   {StateDone, StateFailed},
}

// Lifecycle tracks the state of one workflow run.
// Safe for concurrent readers such as the status endpoint.
type Lifecycle struct {
	mu       sync.RWMutex
	jobID    string
	state    State
	progress int
}

// NewLifecycle creates a lifecycle in VALIDATING state.
func NewLifecycle(jobID string) *Lifecycle {
	return &Lifecycle{
		jobID: jobID,
		state: StateValidating,
	}
}

// JobID returns the job ID.
func (l *Lifecycle) JobID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.jobID
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Progress returns the last observed percent complete of the remote job.
func (l *Lifecycle) Progress() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.progress
}

// SetProgress records the last observed percent complete.
func (l *Lifecycle) SetProgress(percent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = percent
}

// Transition moves to next if the transition table allows it.
func (l *Lifecycle) Transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, next)
}

// Fail moves to FAILED. Returns false if already in a terminal state.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}

// Snapshot is a point-in-time view of a lifecycle.
type Snapshot struct {
	JobID           string `json:"jobId"`
	State           string `json:"state"`
	PercentComplete int    `json:"percentComplete"`
	Terminal        bool   `json:"terminal"`
}

// Snapshot returns the current view.
func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		JobID:           l.jobID,
		State:           l.state.String(),
		PercentComplete: l.progress,
		Terminal:        l.state.IsTerminal(),
	}
}
