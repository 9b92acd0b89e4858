package app

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"speech-batch-transcriber/internal/config"
	"speech-batch-transcriber/internal/events"
	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/observability"
	"speech-batch-transcriber/internal/observability/logging"
	"speech-batch-transcriber/internal/observability/metrics"
	"speech-batch-transcriber/internal/output"
	"speech-batch-transcriber/internal/service/media"
	"speech-batch-transcriber/internal/service/storage"
	"speech-batch-transcriber/internal/service/storage/gcs"
	storagemock "speech-batch-transcriber/internal/service/storage/mock"
	"speech-batch-transcriber/internal/service/stt"
	"speech-batch-transcriber/internal/service/stt/google"
	sttmock "speech-batch-transcriber/internal/service/stt/mock"
	"speech-batch-transcriber/internal/service/workflow"
)

const (
	serviceName = "speech-batch-transcriber"
	pushTimeout = 10 * time.Second
)

// Application holds process-wide state for one transcription run.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	closers  []io.Closer
}

// New constructs an Application and initializes logging from cfg.
func New(cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg:      cfg,
		metrics:  metrics.DefaultMetrics,
		gatherer: prometheus.DefaultGatherer,
	}
	if err := a.setupLogger(); err != nil {
		return nil, err
	}

	a.Logger.Info().Msg("Speech batch transcriber application created")
	return a, nil
}

func (a *Application) setupLogger() error {
	audit, err := logging.Init(logging.Config{
		Level:    a.Cfg.Observability.LogLevel,
		Format:   a.Cfg.Observability.LogFormat,
		AuditDir: a.Cfg.Observability.AuditLogDir,
	})
	if err != nil {
		return models.NewError(models.KindConfiguration, "init logging", err)
	}
	a.closers = append(a.closers, audit)

	a.Logger = logging.Logger().With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Debug().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("auditDir", a.Cfg.Observability.AuditLogDir).
		Msg("Logger setup completed")
	return nil
}

// Run validates the configuration, builds the collaborators and runs one
// transcription. When a metrics address is configured the status server
// runs alongside the workflow and stops when it finishes.
func (a *Application) Run(ctx context.Context) (*workflow.Report, error) {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("audioPath", a.Cfg.AudioPath).
		Msg("Speech batch transcriber starting")

	if err := a.Cfg.Validate(); err != nil {
		a.Logger.Error().Err(err).Msg("Invalid configuration")
		return nil, err
	}

	deps, err := a.dependencies(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("Failed to create collaborators")
		return nil, err
	}
	wf := workflow.New(workflow.OptionsFromConfig(a.Cfg), deps)

	var report *workflow.Report
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var g errgroup.Group
	if addr := a.Cfg.Observability.MetricsAddr; addr != "" {
		srv := observability.NewServer(addr, a.gatherer, func() any {
			return wf.Lifecycle().Snapshot()
		})
		g.Go(func() error {
			if err := srv.Run(serverCtx); err != nil {
				a.Logger.Error().Err(err).Str("addr", addr).Msg("Observability HTTP server error")
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stopServer()
		var err error
		report, err = wf.Run(ctx)
		return err
	})
	runErr := g.Wait()

	a.pushMetrics(ctx)
	return report, runErr
}

func (a *Application) dependencies(ctx context.Context) (workflow.Dependencies, error) {
	recognizer, err := a.newRecognizer(ctx)
	if err != nil {
		return workflow.Dependencies{}, err
	}
	a.closers = append(a.closers, recognizer)

	sink, err := output.NewFileSink()
	if err != nil {
		return workflow.Dependencies{}, err
	}

	publisher := events.New(&events.Config{
		Enabled:       a.Cfg.Kafka.Enabled,
		Brokers:       a.Cfg.Kafka.Brokers,
		TopicProgress: a.Cfg.Kafka.TopicProgress,
		TopicResult:   a.Cfg.Kafka.TopicResult,
		Principal:     a.Cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, publisher)

	deps := workflow.Dependencies{
		Recognizer: recognizer,
		Detector:   media.Probe{},
		Sink:       sink,
		Notifier:   publisher,
		Metrics:    a.metrics,
	}

	if !a.Cfg.Storage.Direct {
		stager, err := a.newStager(ctx)
		if err != nil {
			return workflow.Dependencies{}, err
		}
		a.closers = append(a.closers, stager)
		deps.Stager = stager
	}
	return deps, nil
}

func (a *Application) newRecognizer(ctx context.Context) (stt.Recognizer, error) {
	switch a.Cfg.Speech.Provider {
	case config.ProviderMock:
		a.Logger.Warn().Msg("Using mock speech recognizer")
		return sttmock.New(), nil
	default:
		return google.New(ctx, google.Config{CredentialsPath: a.Cfg.Google.CredentialsPath})
	}
}

func (a *Application) newStager(ctx context.Context) (storage.Stager, error) {
	switch a.Cfg.Storage.Provider {
	case config.ProviderMock:
		a.Logger.Warn().Msg("Using in-memory storage stager")
		return storagemock.New(), nil
	default:
		return gcs.New(ctx, gcs.Config{
			CredentialsPath: a.Cfg.Google.CredentialsPath,
			ProjectID:       a.Cfg.Google.ProjectID,
			Location:        a.Cfg.Storage.Location,
		})
	}
}

func (a *Application) pushMetrics(ctx context.Context) {
	url := a.Cfg.Observability.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := metrics.Push(ctx, url, serviceName, a.gatherer); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to push metrics")
		return
	}
	a.Logger.Debug().Str("url", url).Msg("Metrics pushed")
}

// Shutdown releases clients and the audit log, newest first.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Speech batch transcriber shutting down")

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}
