// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_batch_transcriber"

// Metrics holds all Prometheus metrics for the transcriber.
type Metrics struct {
	// Job metrics
	JobsTotal    *prometheus.CounterVec
	JobDuration  prometheus.Histogram
	StepDuration *prometheus.HistogramVec
	StepFailures *prometheus.CounterVec

	// Remote operation metrics
	PollsTotal      prometheus.Counter
	PollErrors      prometheus.Counter
	ProgressPercent prometheus.Gauge

	// Staging metrics
	BucketsCreated prometheus.Counter
	StagedBytes    prometheus.Counter
	CleanupsTotal  prometheus.Counter
	CleanupsFailed prometheus.Counter

	// Output metrics
	SpeakerBlocks prometheus.Histogram
	WordsTotal    *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of transcription jobs by final state",
		}, []string{"state"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of transcription jobs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of each workflow step in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"step"}),
		StepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Total number of failed workflow steps",
		}, []string{"step", "error_kind"}),

		PollsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_polls_total",
			Help:      "Total number of long-running operation polls",
		}),
		PollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_poll_errors_total",
			Help:      "Total number of failed long-running operation polls",
		}),
		ProgressPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_progress_percent",
			Help:      "Last observed progress of the running recognition job",
		}),

		BucketsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_created_total",
			Help:      "Total number of staging buckets created",
		}),
		StagedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_bytes_total",
			Help:      "Total audio bytes uploaded to the staging bucket",
		}),
		CleanupsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Total number of staged object deletions attempted",
		}),
		CleanupsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_failed_total",
			Help:      "Total number of staged object deletions that failed",
		}),

		SpeakerBlocks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speaker_blocks",
			Help:      "Number of speaker blocks per transcription",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		WordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognized_words_total",
			Help:      "Total recognized words by diarization status",
		}, []string{"tagged"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordJob records a finished job.
func (m *Metrics) RecordJob(state string, durationSeconds float64) {
	m.JobsTotal.WithLabelValues(state).Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordStep records a workflow step. errorKind is empty on success.
func (m *Metrics) RecordStep(step, errorKind string, durationSeconds float64) {
	m.StepDuration.WithLabelValues(step).Observe(durationSeconds)
	if errorKind != "" {
		m.StepFailures.WithLabelValues(step, errorKind).Inc()
	}
}

// RecordPoll records one poll of a remote operation.
func (m *Metrics) RecordPoll(err error) {
	m.PollsTotal.Inc()
	if err != nil {
		m.PollErrors.Inc()
	}
}

// RecordProgress records the last observed progress percentage.
func (m *Metrics) RecordProgress(percent int) {
	m.ProgressPercent.Set(float64(percent))
}

// RecordBucketCreated records a staging bucket creation.
func (m *Metrics) RecordBucketCreated() {
	m.BucketsCreated.Inc()
}

// RecordStaged records bytes uploaded to the staging bucket.
func (m *Metrics) RecordStaged(bytes int64) {
	m.StagedBytes.Add(float64(bytes))
}

// RecordCleanup records a staged object deletion attempt.
func (m *Metrics) RecordCleanup(err error) {
	m.CleanupsTotal.Inc()
	if err != nil {
		m.CleanupsFailed.Inc()
	}
}

// RecordAssembly records the size of an assembled transcript.
func (m *Metrics) RecordAssembly(tagged, untagged, blocks int) {
	m.WordsTotal.WithLabelValues("true").Add(float64(tagged))
	m.WordsTotal.WithLabelValues("false").Add(float64(untagged))
	m.SpeakerBlocks.Observe(float64(blocks))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
