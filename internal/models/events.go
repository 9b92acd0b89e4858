package models

const (
	EventTypeProgress  = "transcription.progress"
	EventTypeCompleted = "transcription.completed"
	EventTypeFailed    = "transcription.failed"
)

// TranscriptionProgress is published each time the observed percentage changes.
type TranscriptionProgress struct {
	EventType       string `json:"eventType"`
	JobID           string `json:"jobId"`
	Operation       string `json:"operation,omitempty"`
	AudioPath       string `json:"audioPath"`
	Timestamp       int64  `json:"timestamp"`
	PercentComplete int    `json:"percentComplete"`
}

// TranscriptionCompleted is published once per job with its final outcome.
type TranscriptionCompleted struct {
	EventType  string             `json:"eventType"`
	JobID      string             `json:"jobId"`
	AudioPath  string             `json:"audioPath"`
	AudioURI   string             `json:"audioUri,omitempty"`
	Timestamp  int64              `json:"timestamp"`
	State      string             `json:"state"`
	Error      string             `json:"error,omitempty"`
	TextBlocks []SpeakerTextBlock `json:"textBlocks,omitempty"`
}
