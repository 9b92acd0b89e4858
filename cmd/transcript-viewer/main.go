// Transcript viewer: follows the transcription progress and result topics
// and shows job state live in the browser over a WebSocket.
package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"speech-batch-transcriber/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

var rootCmd = &cobra.Command{
	Use:          "transcript-viewer",
	Short:        "Show transcription job events in the browser",
	SilenceUsage: true,
	RunE:         runViewer,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("addr", ":8081", "HTTP listen address")
	flags.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	flags.String("topic-progress", "transcription.progress", "Progress event topic")
	flags.String("topic-result", "transcription.result", "Result event topic")
	flags.Duration("since", time.Hour, "Replay events newer than this")
	flags.String("log-level", "info", "Log level")
}

func runViewer(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	addr, _ := flags.GetString("addr")
	brokers, _ := flags.GetString("brokers")
	topicProgress, _ := flags.GetString("topic-progress")
	topicResult, _ := flags.GetString("topic-result")
	since, _ := flags.GetDuration("since")
	level, _ := flags.GetString("log-level")

	if _, err := logging.Init(logging.Config{Level: level, Format: "console"}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run(ctx)

	brokerList := strings.Split(brokers, ",")
	for _, topic := range []string{topicProgress, topicResult} {
		go consumeKafka(ctx, hub, brokerList, topic, since)
	}

	handler, err := newRouter(ctx, hub)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", addr).
		Strs("brokers", brokerList).
		Strs("topics", []string{topicProgress, topicResult}).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newRouter(ctx context.Context, hub *Hub) (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", wsHandler(ctx, hub))
	r.Handle("/*", http.FileServer(http.FS(staticFS)))
	return r, nil
}

// consumeKafka reads one partition without a consumer group, starting at
// the offset closest to now minus since.
func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string, since time.Duration) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := decodeEvent(msg)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping message")
			continue
		}

		log.Debug().
			Str("eventType", event.EventType).
			Str("jobId", event.JobID).
			Int("percent", event.PercentComplete).
			Str("text", truncate(event.Text, 40)).
			Msg("Received event")

		select {
		case hub.broadcast <- event:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
