// Package events publishes transcription job events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/observability/metrics"
)

// Notifier receives job progress and outcome events.
type Notifier interface {
	PublishProgress(ctx context.Context, event models.TranscriptionProgress) error
	PublishCompleted(ctx context.Context, event models.TranscriptionCompleted) error
}

// Publisher publishes job events to separate Kafka topics.
type Publisher struct {
	writerProgress *kafka.Writer
	writerResult   *kafka.Writer
	principal      string
	topicProgress  string
	topicResult    string
	enabled        bool
	metrics        *metrics.Metrics
}

var _ Notifier = (*Publisher)(nil)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicProgress string
	TopicResult   string
	Principal     string
	Enabled       bool
}

// New creates a Kafka event publisher. A nil or disabled config, or one
// without brokers, yields a publisher that only logs.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicProgress: cfg.TopicProgress,
			topicResult:   cfg.TopicResult,
			metrics:       m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicProgress", cfg.TopicProgress).
		Str("topicResult", cfg.TopicResult).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerProgress: newWriter(cfg.Brokers, cfg.TopicProgress, transport),
		writerResult:   newWriter(cfg.Brokers, cfg.TopicResult, transport),
		principal:      cfg.Principal,
		topicProgress:  cfg.TopicProgress,
		topicResult:    cfg.TopicResult,
		enabled:        true,
		metrics:        m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishProgress publishes a progress event keyed by job id.
func (p *Publisher) PublishProgress(ctx context.Context, event models.TranscriptionProgress) error {
	return p.publish(ctx, p.writerProgress, p.topicProgress, event.EventType, event.JobID, event)
}

// PublishCompleted publishes the job outcome keyed by job id.
func (p *Publisher) PublishCompleted(ctx context.Context, event models.TranscriptionCompleted) error {
	return p.publish(ctx, p.writerResult, p.topicResult, event.EventType, event.JobID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerProgress != nil {
		if e := p.writerProgress.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing progress writer")
			err = e
		}
	}
	if p.writerResult != nil {
		if e := p.writerResult.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing result writer")
			err = e
		}
	}
	return err
}
