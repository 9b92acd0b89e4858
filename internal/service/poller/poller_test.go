package poller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/service/stt/mock"
)

// fakeClock fires immediately and records every requested wait.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
	block bool
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if c.block {
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

func newTestPoller(rec *mock.Adapter, clock Clock) *Poller {
	return New(rec, WithClock(clock), WithLogger(zerolog.Nop()))
}

func collect(t *testing.T, s *Stream) ([]models.ProgressEvent, []models.RecognizedWord, error) {
	t.Helper()
	var (
		events []models.ProgressEvent
		words  []models.RecognizedWord
	)
	for ev, err := range s.All(context.Background()) {
		if err != nil {
			return events, words, err
		}
		events = append(events, ev.Progress)
		words = ev.Words
	}
	return events, words, nil
}

func TestStream_DeduplicatesProgress(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{
		Progress: []int{10, 10, 25, 25, 25, 100},
		Words:    []models.RecognizedWord{{Text: "hi", SpeakerTag: 1}},
	})
	clock := &fakeClock{}

	stream, err := newTestPoller(rec, clock).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	events, words, err := collect(t, stream)
	require.NoError(t, err)

	assert.Equal(t, []models.ProgressEvent{
		{PercentComplete: 10},
		{PercentComplete: 25},
		{PercentComplete: 100, IsTerminal: true},
	}, events)
	assert.Equal(t, []models.RecognizedWord{{Text: "hi", SpeakerTag: 1}}, words)
	assert.Equal(t, 6, rec.Polls())
	assert.Equal(t, 1, rec.Submits())
}

func TestStream_WaitsFixedIntervalBetweenPolls(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{Progress: []int{10, 20, 100}})
	clock := &fakeClock{}

	stream, err := New(rec, WithClock(clock), WithInterval(3*time.Second), WithLogger(zerolog.Nop())).
		Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	_, _, err = collect(t, stream)
	require.NoError(t, err)

	// No wait before the first poll, one before each following poll.
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.waits)
}

func TestPoller_DefaultInterval(t *testing.T) {
	p := New(mock.New())
	assert.Equal(t, 5*time.Second, p.interval)
}

func TestStream_FaultEndsStream(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{
		Progress:     []int{40, 70},
		FaultMessage: "bad audio",
	})

	stream, err := newTestPoller(rec, &fakeClock{}).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, ev.Progress.PercentComplete)

	_, err = stream.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRemoteOperation)
	assert.Contains(t, err.Error(), "bad audio")
	polls := rec.Polls()

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, polls, rec.Polls(), "no poll after the fault")
}

func TestStream_AllYieldsSingleFailure(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{Progress: []int{50}, FaultMessage: "boom"})

	stream, err := newTestPoller(rec, &fakeClock{}).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	var failures int
	for _, err := range stream.All(context.Background()) {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, models.ErrRemoteOperation)
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, rec.Polls())
}

func TestStream_DoneAtSubmit(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{Words: []models.RecognizedWord{{Text: "x", SpeakerTag: 2}}})
	clock := &fakeClock{}

	stream, err := newTestPoller(rec, clock).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.Progress.IsTerminal)
	assert.Len(t, ev.Words, 1)
	assert.Zero(t, rec.Polls())
	assert.Zero(t, clock.count())
}

func TestStream_PollErrorIsReported(t *testing.T) {
	cause := errors.New("connection reset")
	rec := mock.NewWithScript(mock.Script{Progress: []int{10, 20, 30}, PollErr: cause, PollErrAt: 2})

	stream, err := newTestPoller(rec, &fakeClock{}).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, models.ErrRemoteOperation)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, rec.Polls())
}

func TestStream_SubmitError(t *testing.T) {
	cause := errors.New("permission denied")
	rec := mock.NewWithScript(mock.Script{SubmitErr: cause})

	stream, err := newTestPoller(rec, &fakeClock{}).Start(context.Background(), models.RecognitionRequest{})
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, models.ErrRemoteOperation)
}

func TestPoller_StartOnlyOnce(t *testing.T) {
	rec := mock.New()
	p := newTestPoller(rec, &fakeClock{})

	_, err := p.Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	_, err = p.Start(context.Background(), models.RecognitionRequest{})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, 1, rec.Submits())
}

func TestStream_CancelDuringWait(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{Progress: []int{10, 20, 100}})
	clock := &fakeClock{block: true}

	stream, err := newTestPoller(rec, clock).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = stream.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, rec.Polls())
}

func TestStream_BreakStopsPolling(t *testing.T) {
	rec := mock.NewWithScript(mock.Script{Progress: []int{10, 20, 30, 40, 100}})

	stream, err := newTestPoller(rec, &fakeClock{}).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	for ev, err := range stream.All(context.Background()) {
		require.NoError(t, err)
		if ev.Progress.PercentComplete == 20 {
			break
		}
	}

	assert.Equal(t, 2, rec.Polls())
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, rec.Polls())
}

func TestStream_Close(t *testing.T) {
	rec := mock.New()
	stream, err := newTestPoller(rec, &fakeClock{}).Start(context.Background(), models.RecognitionRequest{})
	require.NoError(t, err)

	stream.Close()
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, rec.Polls())
}
