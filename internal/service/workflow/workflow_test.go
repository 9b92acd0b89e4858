package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-batch-transcriber/internal/config"
	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/observability/metrics"
	"speech-batch-transcriber/internal/output"
	"speech-batch-transcriber/internal/service/media"
	storagemock "speech-batch-transcriber/internal/service/storage/mock"
	sttmock "speech-batch-transcriber/internal/service/stt/mock"
)

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fakeDetector struct {
	codec   media.Codec
	rate    int
	rateErr error
}

func (d fakeDetector) DetectCodec(string) (media.Codec, error) { return d.codec, nil }
func (d fakeDetector) DetectSampleRate(string) (int, error)    { return d.rate, d.rateErr }

type fakeSink struct {
	err   error
	jsons int
	texts []string
}

func (s *fakeSink) WriteJSON(*models.TranscriptionResult, string) error {
	s.jsons++
	return s.err
}

func (s *fakeSink) WriteText(text, _ string) error {
	s.texts = append(s.texts, text)
	return s.err
}

type recordingNotifier struct {
	mu        sync.Mutex
	progress  []int
	completed []models.TranscriptionCompleted
}

func (n *recordingNotifier) PublishProgress(_ context.Context, ev models.TranscriptionProgress) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, ev.PercentComplete)
	return nil
}

func (n *recordingNotifier) PublishCompleted(_ context.Context, ev models.TranscriptionCompleted) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, ev)
	return nil
}

type fixture struct {
	opts       Options
	recognizer *sttmock.Adapter
	stager     *storagemock.Stager
	detector   fakeDetector
	sink       output.Sink
	notifier   *recordingNotifier
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	audio := filepath.Join(dir, "call.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF----WAVE"), 0o644))

	sink, err := output.NewFileSink()
	require.NoError(t, err)

	return &fixture{
		opts: Options{
			AudioPath:         audio,
			Bucket:            "gcs-tool",
			LanguageCode:      "en-US",
			EnableDiarization: true,
			PollInterval:      time.Second,
			WriteJSON:         true,
			WriteText:         true,
		},
		recognizer: sttmock.New(),
		stager:     storagemock.New(),
		detector:   fakeDetector{codec: media.CodecWAVE, rate: 16000},
		sink:       sink,
		notifier:   &recordingNotifier{},
		metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) workflow() *Workflow {
	deps := Dependencies{
		Recognizer: f.recognizer,
		Detector:   f.detector,
		Sink:       f.sink,
		Notifier:   f.notifier,
		Metrics:    f.metrics,
		Clock:      instantClock{},
		NameObject: func(string) string { return "obj-1.wav" },
	}
	if f.stager != nil {
		deps.Stager = f.stager
	}
	return New(f.opts, deps)
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture(t)

	report, err := f.workflow().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, "gs://gcs-tool/obj-1.wav", report.ObjectURI)
	assert.Equal(t, 1, f.stager.Creates(), "missing bucket is created")
	assert.Equal(t, 1, f.stager.Uploads())
	assert.Equal(t, 1, f.stager.Deletes())
	assert.Empty(t, f.stager.Objects("gcs-tool"), "staged audio is removed")

	reqs := f.recognizer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gs://gcs-tool/obj-1.wav", reqs[0].AudioLocation)
	assert.Equal(t, models.EncodingLinear16, reqs[0].Encoding)
	assert.Equal(t, 16000, reqs[0].SampleRateHz)
	assert.Equal(t, "en-US", reqs[0].LanguageCode)
	assert.True(t, reqs[0].EnableDiarization)

	dir := filepath.Dir(f.opts.AudioPath)
	assert.Equal(t, filepath.Join(dir, "Transcription-call.json"), report.JSONPath)
	text, err := os.ReadFile(filepath.Join(dir, "Transcription-call.txt"))
	require.NoError(t, err)
	assert.Equal(t,
		"Speaker 1: I want to cancel my subscription\n"+
			"Speaker 2: Can you confirm your account\n"+
			"Speaker 1: Yes please go ahead",
		string(text))
	_, err = os.Stat(report.JSONPath)
	assert.NoError(t, err)

	assert.Equal(t, []int{0, 20, 45, 80}, f.notifier.progress, "unchanged percentages are not republished")
	require.Len(t, f.notifier.completed, 1)
	assert.Equal(t, "DONE", f.notifier.completed[0].State)
	assert.Equal(t, models.EventTypeCompleted, f.notifier.completed[0].EventType)
	assert.Len(t, f.notifier.completed[0].TextBlocks, 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.JobsTotal.WithLabelValues("DONE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BucketsCreated))
	// one duration series per step, assembling included, and no failures
	assert.Equal(t, 6, testutil.CollectAndCount(f.metrics.StepDuration))
	assert.Equal(t, 0, testutil.CollectAndCount(f.metrics.StepFailures))
}

func TestRun_ExistingBucketIsReused(t *testing.T) {
	f := newFixture(t)
	f.stager = storagemock.New("gcs-tool")

	_, err := f.workflow().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.stager.Creates())
}

func TestRun_TranscriptionFailureStillCleansUp(t *testing.T) {
	tests := []struct {
		name   string
		script sttmock.Script
	}{
		{"remote fault", sttmock.Script{Progress: []int{10, 50}, FaultMessage: "audio too long"}},
		{"poll error", sttmock.Script{Progress: []int{10, 20, 30}, PollErr: errors.New("unavailable"), PollErrAt: 2}},
		{"submit error", sttmock.Script{SubmitErr: errors.New("quota exceeded")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sink := &fakeSink{}
			f.sink = sink
			f.recognizer = sttmock.NewWithScript(tt.script)

			report, err := f.workflow().Run(context.Background())

			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrRemoteOperation), "got %v", err)
			assert.Equal(t, StateFailed, report.State)
			assert.Equal(t, 1, f.stager.Deletes(), "staged object deleted exactly once")
			assert.Empty(t, f.stager.Objects("gcs-tool"))
			assert.Zero(t, sink.jsons, "no output on failed transcription")
			assert.Empty(t, sink.texts)

			require.Len(t, f.notifier.completed, 1)
			assert.Equal(t, models.EventTypeFailed, f.notifier.completed[0].EventType)
		})
	}
}

func TestRun_UnsupportedCodecMakesNoRemoteCalls(t *testing.T) {
	for _, codec := range []media.Codec{media.CodecMP3, media.CodecOgg, media.CodecUnknown} {
		t.Run(codec.String(), func(t *testing.T) {
			f := newFixture(t)
			f.detector = fakeDetector{codec: codec, rate: 44100}

			report, err := f.workflow().Run(context.Background())

			assert.True(t, errors.Is(err, models.ErrUnsupportedFormat), "got %v", err)
			assert.Equal(t, StateFailed, report.State)
			assert.Zero(t, f.recognizer.Submits())
			assert.Zero(t, f.stager.Creates())
			assert.Zero(t, f.stager.Uploads())
			assert.Zero(t, f.stager.Deletes())
		})
	}
}

func TestRun_UnreadableSampleRate(t *testing.T) {
	f := newFixture(t)
	f.detector = fakeDetector{codec: media.CodecFLAC, rateErr: errors.New("truncated STREAMINFO")}

	_, err := f.workflow().Run(context.Background())

	assert.True(t, errors.Is(err, models.ErrUnsupportedFormat), "got %v", err)
	assert.Zero(t, f.stager.Uploads())
}

func TestRun_StagingFailureAbortsBeforeTranscription(t *testing.T) {
	tests := []struct {
		name     string
		failures storagemock.Failures
	}{
		{"bucket lookup", storagemock.Failures{BucketExistsErr: errors.New("permission denied")}},
		{"bucket create", storagemock.Failures{CreateErr: errors.New("name taken")}},
		{"upload", storagemock.Failures{UploadErr: errors.New("connection reset")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.stager = storagemock.NewWithFailures(tt.failures)

			report, err := f.workflow().Run(context.Background())

			assert.True(t, errors.Is(err, models.ErrStaging), "got %v", err)
			assert.Equal(t, StateFailed, report.State)
			assert.Zero(t, f.recognizer.Submits())
			assert.Zero(t, f.stager.Deletes(), "nothing staged, nothing to delete")
		})
	}
}

func TestRun_PersistenceFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.sink = &fakeSink{err: errors.New("disk full")}

	report, err := f.workflow().Run(context.Background())

	assert.True(t, errors.Is(err, models.ErrPersistence), "got %v", err)
	assert.Equal(t, StateFailed, report.State)
	assert.NotNil(t, report.Result)
	assert.Equal(t, 1, f.stager.Deletes())
}

func TestRun_CleanupFailureIsNotEscalated(t *testing.T) {
	f := newFixture(t)
	f.stager = storagemock.NewWithFailures(storagemock.Failures{DeleteErr: errors.New("forbidden")})

	report, err := f.workflow().Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.True(t, errors.Is(report.CleanupErr, models.ErrCleanup), "got %v", report.CleanupErr)
	assert.Equal(t, 1, f.stager.Deletes())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CleanupsFailed))
}

func TestRun_DirectSubmission(t *testing.T) {
	f := newFixture(t)
	f.opts.Direct = true
	f.opts.Bucket = ""
	f.stager = nil

	report, err := f.workflow().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Empty(t, report.ObjectURI)
	reqs := f.recognizer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, f.opts.AudioPath, reqs[0].AudioLocation)
}

func TestRun_CancelledContextStillCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.workflow().Run(ctx)

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, 1, f.stager.Deletes())
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture)
	}{
		{"missing audio file", func(f *fixture) { f.opts.AudioPath = filepath.Join(t.TempDir(), "nope.wav") }},
		{"audio is a directory", func(f *fixture) { f.opts.AudioPath = t.TempDir() }},
		{"no language", func(f *fixture) { f.opts.LanguageCode = "" }},
		{"no bucket", func(f *fixture) { f.opts.Bucket = "" }},
		{"no stager", func(f *fixture) { f.stager = nil }},
		{"no output selected", func(f *fixture) { f.opts.WriteJSON = false; f.opts.WriteText = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f)

			report, err := f.workflow().Run(context.Background())

			assert.True(t, errors.Is(err, models.ErrConfiguration), "got %v", err)
			assert.Equal(t, StateFailed, report.State)
			assert.Zero(t, f.recognizer.Submits())
			if f.stager != nil {
				assert.Zero(t, f.stager.Uploads())
			}
		})
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	w := f.workflow()

	_, err := w.Run(context.Background())
	require.NoError(t, err)

	_, err = w.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Equal(t, 1, f.recognizer.Submits())
}

func TestRun_LifecycleVisibleToObservers(t *testing.T) {
	f := newFixture(t)
	w := f.workflow()

	assert.Equal(t, StateValidating, w.Lifecycle().State())
	_, err := w.Run(context.Background())
	require.NoError(t, err)

	snap := w.Lifecycle().Snapshot()
	assert.Equal(t, "DONE", snap.State)
	assert.True(t, snap.Terminal)
	assert.Equal(t, 100, snap.PercentComplete)
}

func TestNew_OutputDirDefaultsToAudioDir(t *testing.T) {
	w := New(Options{AudioPath: "/data/calls/a.flac"}, Dependencies{})
	assert.Equal(t, "/data/calls", w.opts.OutputDir)

	w = New(Options{AudioPath: "/data/calls/a.flac", OutputDir: "/out"}, Dependencies{})
	assert.Equal(t, "/out", w.opts.OutputDir)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.AudioPath = "/data/call.wav"
	cfg.Speech.MaxSpeakers = 3
	cfg.Output.Text = false

	opts := OptionsFromConfig(cfg)

	assert.Equal(t, "/data/call.wav", opts.AudioPath)
	assert.Equal(t, "gcs-tool", opts.Bucket)
	assert.Equal(t, "en-US", opts.LanguageCode)
	assert.Equal(t, 3, opts.MaxSpeakers)
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.True(t, opts.WriteJSON)
	assert.False(t, opts.WriteText)
	assert.True(t, strings.HasPrefix(opts.AudioPath, "/data"))
}
