// Package poller drives a long-running remote recognition job to completion.
//
// A Poller submits one job and hands back a Stream. Each call to
// [Stream.Next] returns the next observable event: a progress update when the
// reported percentage changes, or the terminal outcome. Between polls the
// stream waits a fixed interval so the remote API is never busy-polled.
//
//	stream, err := poller.New(recognizer).Start(ctx, req)
//	for ev, err := range stream.All(ctx) {
//		...
//	}
package poller

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/observability/logging"
	"speech-batch-transcriber/internal/observability/metrics"
	"speech-batch-transcriber/internal/service/stt"
)

// DefaultInterval is the fixed wait between two polls.
const DefaultInterval = 5 * time.Second

// ErrAlreadyStarted is returned when Start is called twice on one Poller.
var ErrAlreadyStarted = errors.New("poller already started a job")

// Clock abstracts waiting so tests can run without real delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Event is one observable step of a remote job.
type Event struct {
	Operation string
	Progress  models.ProgressEvent

	// Words is set on the terminal event only.
	Words []models.RecognizedWord
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// WithMetrics replaces metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Poller runs a single remote job. It is not reusable.
type Poller struct {
	recognizer stt.Recognizer
	interval   time.Duration
	clock      Clock
	log        zerolog.Logger
	metrics    *metrics.Metrics
	started    atomic.Bool
}

// New creates a Poller over recognizer.
func New(recognizer stt.Recognizer, opts ...Option) *Poller {
	p := &Poller{
		recognizer: recognizer,
		interval:   DefaultInterval,
		clock:      realClock{},
		log:        logging.WithComponent("poller"),
		metrics:    metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start submits req exactly once and returns the stream of its events.
func (p *Poller) Start(ctx context.Context, req models.RecognitionRequest) (*Stream, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	st, err := p.recognizer.Submit(ctx, req)
	if err != nil {
		p.log.Error().Err(err).Str("audio", req.AudioLocation).Msg("Failed to submit recognition job")
		return nil, models.NewError(models.KindRemoteOperation, "submit", err)
	}

	s := &Stream{p: p, status: st, lastEmitted: -1}
	p.log.Info().
		Str("operation", s.operation()).
		Str("audio", req.AudioLocation).
		Bool("done", st.Done).
		Msg("Recognition job submitted")
	return s, nil
}

// Stream is a single-consumer, forward-only view of one remote job.
type Stream struct {
	p           *Poller
	status      stt.Status
	lastEmitted int
	polled      bool
	closed      atomic.Bool
}

// Next blocks until the next observable event. It returns io.EOF once the
// terminal event or failure has been delivered, or after Close.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		if s.closed.Load() {
			return Event{}, io.EOF
		}
		if s.status.Done {
			return s.finish()
		}

		if s.polled {
			if err := s.wait(ctx); err != nil {
				s.Close()
				return Event{}, err
			}
		}

		st, err := s.p.recognizer.PollOnce(ctx, s.status.Handle)
		s.polled = true
		s.p.metrics.RecordPoll(err)
		if err != nil {
			s.Close()
			s.p.log.Error().Err(err).Str("operation", s.operation()).Msg("Poll failed")
			return Event{}, models.NewError(models.KindRemoteOperation, "poll "+s.operation(), err)
		}
		if st.Handle == nil {
			st.Handle = s.status.Handle
		}
		s.status = st

		if st.Done {
			continue
		}
		if st.ProgressPercent == s.lastEmitted {
			s.p.log.Debug().
				Str("operation", s.operation()).
				Int("percent", st.ProgressPercent).
				Msg("Progress unchanged")
			continue
		}

		s.lastEmitted = st.ProgressPercent
		s.p.metrics.RecordProgress(st.ProgressPercent)
		return Event{
			Operation: s.operation(),
			Progress:  models.ProgressEvent{PercentComplete: st.ProgressPercent},
		}, nil
	}
}

// All adapts the stream to a range-over-func sequence. Breaking out of the
// loop closes the stream.
func (s *Stream) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer s.Close()
		for {
			ev, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Close abandons the stream. No further polls are made.
func (s *Stream) Close() {
	s.closed.Store(true)
}

func (s *Stream) finish() (Event, error) {
	s.Close()
	if s.status.Faulted() {
		s.p.metrics.RecordProgress(s.status.ProgressPercent)
		s.p.log.Error().
			Str("operation", s.operation()).
			Str("fault", s.status.FaultMessage).
			Msg("Recognition job faulted")
		return Event{}, models.RemoteOperationFailed(s.operation(), s.status.FaultMessage)
	}

	s.p.metrics.RecordProgress(100)
	return Event{
		Operation: s.operation(),
		Progress:  models.ProgressEvent{PercentComplete: 100, IsTerminal: true},
		Words:     s.status.Words,
	}, nil
}

func (s *Stream) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.p.clock.After(s.p.interval):
		return nil
	}
}

func (s *Stream) operation() string {
	if s.status.Handle == nil {
		return ""
	}
	return s.status.Handle.Name()
}
