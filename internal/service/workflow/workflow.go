// Package workflow runs one end-to-end transcription of a local audio file:
// validate, stage, transcribe, assemble speaker blocks, persist and clean up.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-batch-transcriber/internal/config"
	"speech-batch-transcriber/internal/events"
	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/observability/logging"
	"speech-batch-transcriber/internal/observability/metrics"
	"speech-batch-transcriber/internal/output"
	"speech-batch-transcriber/internal/service/media"
	"speech-batch-transcriber/internal/service/poller"
	"speech-batch-transcriber/internal/service/speaker"
	"speech-batch-transcriber/internal/service/storage"
	"speech-batch-transcriber/internal/service/stt"
)

// cleanupTimeout bounds the delete of a staged object. Cleanup runs even
// after the caller's context is cancelled.
const cleanupTimeout = 30 * time.Second

// ErrAlreadyRun is returned when Run is called twice on one Workflow.
var ErrAlreadyRun = errors.New("workflow already run")

// Options are the per-run settings.
type Options struct {
	AudioPath    string
	Bucket       string
	LanguageCode string

	// OutputDir defaults to the directory of AudioPath.
	OutputDir string

	// Direct submits the audio inline instead of staging it in a bucket.
	Direct bool

	EnableDiarization bool
	EnablePunctuation bool
	MinSpeakers       int
	MaxSpeakers       int
	Model             string
	PollInterval      time.Duration

	WriteJSON bool
	WriteText bool
}

// OptionsFromConfig builds run options from a loaded configuration.
func OptionsFromConfig(cfg *config.Configuration) Options {
	return Options{
		AudioPath:         cfg.AudioPath,
		Bucket:            cfg.Storage.Bucket,
		LanguageCode:      cfg.Speech.LanguageCode,
		OutputDir:         cfg.Output.Dir,
		Direct:            cfg.Storage.Direct,
		EnableDiarization: cfg.Speech.Diarization,
		EnablePunctuation: cfg.Speech.Punctuation,
		MinSpeakers:       cfg.Speech.MinSpeakers,
		MaxSpeakers:       cfg.Speech.MaxSpeakers,
		Model:             cfg.Speech.Model,
		PollInterval:      cfg.Speech.PollInterval,
		WriteJSON:         cfg.Output.JSON,
		WriteText:         cfg.Output.Text,
	}
}

// Dependencies are the collaborators of a run. Stager may be nil for direct
// runs. Notifier, Metrics, Clock, NameObject and Now are optional.
type Dependencies struct {
	Recognizer stt.Recognizer
	Stager     storage.Stager
	Detector   media.Detector
	Sink       output.Sink
	Notifier   events.Notifier
	Metrics    *metrics.Metrics
	Clock      poller.Clock
	NameObject storage.NameFunc
	Now        func() time.Time
}

// Report describes the outcome of a run.
type Report struct {
	JobID     string
	State     State
	ObjectURI string
	Result    *models.TranscriptionResult
	JSONPath  string
	TextPath  string

	// CleanupErr is set when the staged object could not be deleted. It is
	// never returned by Run.
	CleanupErr error
}

// Workflow is a single transcription job. It is not reusable.
type Workflow struct {
	opts      Options
	deps      Dependencies
	jobID     string
	lifecycle *Lifecycle
	log       zerolog.Logger
	ran       atomic.Bool

	audioSize int64
	object    string
}

// New creates a workflow for one audio file.
func New(opts Options, deps Dependencies) *Workflow {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.NameObject == nil {
		deps.NameObject = storage.ObjectName
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.OutputDir == "" && opts.AudioPath != "" {
		opts.OutputDir = filepath.Dir(opts.AudioPath)
	}

	jobID := uuid.NewString()
	bucket := opts.Bucket
	if opts.Direct {
		bucket = ""
	}
	return &Workflow{
		opts:      opts,
		deps:      deps,
		jobID:     jobID,
		lifecycle: NewLifecycle(jobID),
		log:       logging.WithJob(jobID, opts.AudioPath, bucket),
	}
}

// Lifecycle exposes the run state for observers.
func (w *Workflow) Lifecycle() *Lifecycle {
	return w.lifecycle
}

// Run executes the workflow. It returns the primary failure: the first
// fatal or recoverable error of a step, never a cleanup error. Once audio
// has been staged, the staged object is deleted exactly once before Run
// returns, whatever happened in between.
func (w *Workflow) Run(ctx context.Context) (*Report, error) {
	if !w.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	start := w.deps.Now()
	report := &Report{JobID: w.jobID}
	w.log.Info().Bool("direct", w.opts.Direct).Msg("Transcription started")

	err := w.run(ctx, report)

	report.State = w.lifecycle.State()
	w.deps.Metrics.RecordJob(report.State.String(), w.deps.Now().Sub(start).Seconds())
	w.publishCompleted(ctx, report, err)

	if err != nil {
		w.log.Error().
			Err(err).
			Str("kind", models.KindOf(err).String()).
			Str("state", report.State.String()).
			Int("percent", w.lifecycle.Progress()).
			Msg("Transcription failed")
		return report, err
	}

	w.log.Info().
		Str("jsonPath", report.JSONPath).
		Str("textPath", report.TextPath).
		Int("blocks", len(report.Result.TextBlocks)).
		Msg("Transcription finished")
	return report, nil
}

func (w *Workflow) run(ctx context.Context, report *Report) error {
	var (
		encoding   models.AudioEncoding
		sampleRate int
	)
	err := w.step(StateValidating, func() error {
		var err error
		encoding, sampleRate, err = w.validate()
		return err
	})
	if err != nil {
		w.lifecycle.Fail()
		return err
	}

	location := w.opts.AudioPath
	if !w.opts.Direct {
		if err := w.enter(StateStagingAudio); err != nil {
			return err
		}
		err := w.step(StateStagingAudio, func() error {
			uri, err := w.stage(ctx)
			report.ObjectURI = uri
			return err
		})
		if err != nil {
			w.lifecycle.Fail()
			return err
		}
		location = report.ObjectURI
	}

	primary := w.transcribeAndPersist(ctx, location, encoding, sampleRate, report)

	if w.opts.Direct {
		if primary != nil {
			w.lifecycle.Fail()
			return primary
		}
		return w.enter(StateDone)
	}

	if err := w.enter(StateCleaningUp); err != nil {
		w.lifecycle.Fail()
		return errors.Join(primary, err)
	}
	report.CleanupErr = w.step(StateCleaningUp, func() error {
		return w.cleanup(ctx)
	})

	if primary != nil {
		_ = w.enter(StateFailed)
		return primary
	}
	return w.enter(StateDone)
}

// transcribeAndPersist covers the steps whose failures are logged and
// reported but never skip cleanup.
func (w *Workflow) transcribeAndPersist(ctx context.Context, location string, encoding models.AudioEncoding, sampleRate int, report *Report) error {
	if err := w.enter(StateTranscribing); err != nil {
		return err
	}

	var words []models.RecognizedWord
	err := w.step(StateTranscribing, func() error {
		var err error
		words, err = w.transcribe(ctx, w.request(location, encoding, sampleRate))
		return err
	})
	if err != nil {
		return err
	}

	if err := w.enter(StateAssembling); err != nil {
		return err
	}
	start := w.deps.Now()
	result := w.assemble(words, report.ObjectURI)
	w.deps.Metrics.RecordStep(StateAssembling.String(), "", w.deps.Now().Sub(start).Seconds())
	report.Result = result

	if err := w.enter(StatePersisting); err != nil {
		return err
	}
	return w.step(StatePersisting, func() error {
		return w.persist(result, report)
	})
}

// step runs fn as the body of state, recording its duration and outcome.
func (w *Workflow) step(state State, fn func() error) error {
	start := w.deps.Now()
	err := fn()

	kind := ""
	if err != nil {
		kind = models.KindOf(err).String()
	}
	w.deps.Metrics.RecordStep(state.String(), kind, w.deps.Now().Sub(start).Seconds())
	return err
}

func (w *Workflow) enter(state State) error {
	if state == StateFailed {
		w.lifecycle.Fail()
		return nil
	}
	if err := w.lifecycle.Transition(state); err != nil {
		return err
	}
	w.log.Debug().Str("state", state.String()).Msg("Workflow state changed")
	return nil
}

func (w *Workflow) validate() (models.AudioEncoding, int, error) {
	cfgErr := func(op string, err error) error {
		return models.NewError(models.KindConfiguration, op, err)
	}

	var missing []error
	if w.deps.Recognizer == nil {
		missing = append(missing, errors.New("no speech recognizer"))
	}
	if w.deps.Detector == nil {
		missing = append(missing, errors.New("no media detector"))
	}
	if w.deps.Sink == nil {
		missing = append(missing, errors.New("no output sink"))
	}
	if !w.opts.Direct && w.deps.Stager == nil {
		missing = append(missing, errors.New("no storage stager"))
	}
	if !w.opts.Direct && w.opts.Bucket == "" {
		missing = append(missing, errors.New("no bucket"))
	}
	if w.opts.LanguageCode == "" {
		missing = append(missing, errors.New("no language code"))
	}
	if w.opts.AudioPath == "" {
		missing = append(missing, errors.New("no audio path"))
	}
	if !w.opts.WriteJSON && !w.opts.WriteText {
		missing = append(missing, errors.New("no output selected"))
	}
	if len(missing) > 0 {
		return 0, 0, cfgErr("validate options", errors.Join(missing...))
	}

	f, err := os.Open(w.opts.AudioPath)
	if err != nil {
		return 0, 0, cfgErr("open audio", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return 0, 0, cfgErr("stat audio", err)
	}
	if !info.Mode().IsRegular() {
		return 0, 0, cfgErr("open audio", fmt.Errorf("%s is not a regular file", w.opts.AudioPath))
	}
	w.audioSize = info.Size()

	codec, err := w.deps.Detector.DetectCodec(w.opts.AudioPath)
	if err != nil {
		return 0, 0, cfgErr("detect codec", err)
	}
	encoding, err := EncodingFor(codec)
	if err != nil {
		return 0, 0, err
	}

	sampleRate, err := w.deps.Detector.DetectSampleRate(w.opts.AudioPath)
	if err != nil {
		return 0, 0, models.NewError(models.KindUnsupportedFormat, "detect sample rate", err)
	}

	w.log.Info().
		Str("codec", codec.String()).
		Str("encoding", encoding.String()).
		Int("sampleRateHz", sampleRate).
		Int64("bytes", w.audioSize).
		Msg("Audio validated")
	return encoding, sampleRate, nil
}

func (w *Workflow) stage(ctx context.Context) (string, error) {
	stagingErr := func(op string, err error) error {
		return models.NewError(models.KindStaging, op, err)
	}
	bucket := w.opts.Bucket

	exists, err := w.deps.Stager.BucketExists(ctx, bucket)
	if err != nil {
		return "", stagingErr("check bucket "+bucket, err)
	}
	if !exists {
		if err := w.deps.Stager.CreateBucket(ctx, bucket); err != nil {
			return "", stagingErr("create bucket "+bucket, err)
		}
		w.deps.Metrics.RecordBucketCreated()
		w.log.Info().Msg("Bucket created")
	}

	object := w.deps.NameObject(w.opts.AudioPath)
	uri, err := w.deps.Stager.Upload(ctx, bucket, object, w.opts.AudioPath)
	if err != nil {
		return "", stagingErr("upload "+object, err)
	}
	w.object = object
	w.deps.Metrics.RecordStaged(w.audioSize)

	w.log.Info().Str("object", object).Str("uri", uri).Msg("Audio staged")
	return uri, nil
}

func (w *Workflow) request(location string, encoding models.AudioEncoding, sampleRate int) models.RecognitionRequest {
	return models.RecognitionRequest{
		AudioLocation:     location,
		Encoding:          encoding,
		SampleRateHz:      sampleRate,
		LanguageCode:      w.opts.LanguageCode,
		EnableDiarization: w.opts.EnableDiarization,
		EnablePunctuation: w.opts.EnablePunctuation,
		MinSpeakers:       w.opts.MinSpeakers,
		MaxSpeakers:       w.opts.MaxSpeakers,
		Model:             w.opts.Model,
	}
}

func (w *Workflow) transcribe(ctx context.Context, req models.RecognitionRequest) ([]models.RecognizedWord, error) {
	p := poller.New(w.deps.Recognizer,
		poller.WithInterval(w.opts.PollInterval),
		poller.WithClock(w.deps.Clock),
		poller.WithLogger(w.log),
		poller.WithMetrics(w.deps.Metrics),
	)

	stream, err := p.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	for ev, err := range stream.All(ctx) {
		if err != nil {
			var classified *models.Error
			if !errors.As(err, &classified) {
				err = models.NewError(models.KindRemoteOperation, "await operation", err)
			}
			return nil, err
		}

		w.lifecycle.SetProgress(ev.Progress.PercentComplete)
		if ev.Progress.IsTerminal {
			w.log.Info().
				Str("operation", ev.Operation).
				Int("percent", ev.Progress.PercentComplete).
				Int("words", len(ev.Words)).
				Msg("Transcription complete")
			return ev.Words, nil
		}

		w.log.Info().
			Str("operation", ev.Operation).
			Int("percent", ev.Progress.PercentComplete).
			Msg("Transcription progress")
		w.publishProgress(ctx, ev)
	}

	// The stream only ends without a terminal event when it was closed.
	return nil, models.NewError(models.KindRemoteOperation, "await operation", errors.New("operation stream ended early"))
}

func (w *Workflow) assemble(words []models.RecognizedWord, uri string) *models.TranscriptionResult {
	blocks := speaker.Assemble(words)

	tagged := 0
	for _, word := range words {
		if word.SpeakerTag != 0 {
			tagged++
		}
	}
	w.deps.Metrics.RecordAssembly(tagged, len(words)-tagged, len(blocks))
	if tagged < len(words) {
		w.log.Debug().Int("untagged", len(words)-tagged).Msg("Dropped words without speaker tag")
	}

	return &models.TranscriptionResult{
		AudioPath:    w.opts.AudioPath,
		AudioURI:     uri,
		LanguageCode: w.opts.LanguageCode,
		Created:      w.deps.Now().UTC(),
		TextBlocks:   blocks,
	}
}

func (w *Workflow) persist(result *models.TranscriptionResult, report *Report) error {
	jsonPath, textPath := output.Paths(w.opts.OutputDir, w.opts.AudioPath)

	var errs []error
	if w.opts.WriteJSON {
		if err := w.deps.Sink.WriteJSON(result, jsonPath); err != nil {
			errs = append(errs, err)
		} else {
			report.JSONPath = jsonPath
		}
	}
	if w.opts.WriteText {
		if err := w.deps.Sink.WriteText(speaker.Render(result.TextBlocks), textPath); err != nil {
			errs = append(errs, err)
		} else {
			report.TextPath = textPath
		}
	}

	if len(errs) > 0 {
		return models.NewError(models.KindPersistence, "write transcription", errors.Join(errs...))
	}
	return nil
}

func (w *Workflow) cleanup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := w.deps.Stager.Delete(ctx, w.opts.Bucket, w.object)
	w.deps.Metrics.RecordCleanup(err)
	if err != nil {
		w.log.Error().
			Err(err).
			Str("object", w.object).
			Msg("Failed to delete staged audio")
		return models.NewError(models.KindCleanup, "delete "+storage.URI(w.opts.Bucket, w.object), err)
	}

	w.log.Info().Str("object", w.object).Msg("Staged audio deleted")
	return nil
}

func (w *Workflow) publishProgress(ctx context.Context, ev poller.Event) {
	if w.deps.Notifier == nil {
		return
	}
	err := w.deps.Notifier.PublishProgress(ctx, models.TranscriptionProgress{
		EventType:       models.EventTypeProgress,
		JobID:           w.jobID,
		Operation:       ev.Operation,
		AudioPath:       w.opts.AudioPath,
		Timestamp:       w.deps.Now().UnixMilli(),
		PercentComplete: ev.Progress.PercentComplete,
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("Failed to publish progress event")
	}
}

func (w *Workflow) publishCompleted(ctx context.Context, report *Report, runErr error) {
	if w.deps.Notifier == nil {
		return
	}

	event := models.TranscriptionCompleted{
		EventType: models.EventTypeCompleted,
		JobID:     w.jobID,
		AudioPath: w.opts.AudioPath,
		AudioURI:  report.ObjectURI,
		Timestamp: w.deps.Now().UnixMilli(),
		State:     report.State.String(),
	}
	if runErr != nil {
		event.EventType = models.EventTypeFailed
		event.Error = runErr.Error()
	}
	if report.Result != nil {
		event.TextBlocks = report.Result.TextBlocks
	}

	if err := w.deps.Notifier.PublishCompleted(context.WithoutCancel(ctx), event); err != nil {
		w.log.Warn().Err(err).Msg("Failed to publish completion event")
	}
}
