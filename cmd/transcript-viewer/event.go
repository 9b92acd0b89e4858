package main

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/service/speaker"
)

// ViewEvent is the browser-facing view of a job event.
type ViewEvent struct {
	Topic           string `json:"topic"`
	EventType       string `json:"eventType"`
	JobID           string `json:"jobId"`
	AudioPath       string `json:"audioPath"`
	Timestamp       int64  `json:"timestamp"`
	PercentComplete int    `json:"percentComplete"`
	State           string `json:"state,omitempty"`
	Error           string `json:"error,omitempty"`
	Text            string `json:"text,omitempty"`
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// decodeEvent turns a progress or result message into a ViewEvent. The
// eventType header wins over the payload field when both are present.
func decodeEvent(msg kafka.Message) (ViewEvent, error) {
	var probe struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(msg.Value, &probe); err != nil {
		return ViewEvent{}, fmt.Errorf("decode event: %w", err)
	}
	eventType := headerValue(msg, "eventType")
	if eventType == "" {
		eventType = probe.EventType
	}

	switch eventType {
	case models.EventTypeProgress:
		var ev models.TranscriptionProgress
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return ViewEvent{}, fmt.Errorf("decode progress: %w", err)
		}
		return ViewEvent{
			Topic:           msg.Topic,
			EventType:       eventType,
			JobID:           ev.JobID,
			AudioPath:       ev.AudioPath,
			Timestamp:       ev.Timestamp,
			PercentComplete: ev.PercentComplete,
		}, nil

	case models.EventTypeCompleted, models.EventTypeFailed:
		var ev models.TranscriptionCompleted
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return ViewEvent{}, fmt.Errorf("decode result: %w", err)
		}
		view := ViewEvent{
			Topic:     msg.Topic,
			EventType: eventType,
			JobID:     ev.JobID,
			AudioPath: ev.AudioPath,
			Timestamp: ev.Timestamp,
			State:     ev.State,
			Error:     ev.Error,
			Text:      speaker.Render(ev.TextBlocks),
		}
		if eventType == models.EventTypeCompleted {
			view.PercentComplete = 100
		}
		return view, nil

	default:
		return ViewEvent{}, fmt.Errorf("unknown event type %q", eventType)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
