// Package models defines the data structures shared by the transcription workflow.
package models

import (
	"fmt"
	"time"
)

// AudioEncoding is the speech API's audio encoding for a submitted file.
type AudioEncoding int

const (
	EncodingUnspecified AudioEncoding = iota
	EncodingLinear16
	EncodingFLAC
)

// String returns the speech API name of the encoding.
func (e AudioEncoding) String() string {
	switch e {
	case EncodingUnspecified:
		return "ENCODING_UNSPECIFIED"
	case EncodingLinear16:
		return "LINEAR16"
	case EncodingFLAC:
		return "FLAC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(e))
	}
}

// RecognitionRequest describes one long-running recognition job.
// It is passed by value and never modified after submission.
type RecognitionRequest struct {
	AudioLocation     string // local path or gs:// URI
	Encoding          AudioEncoding
	SampleRateHz      int
	LanguageCode      string
	EnableDiarization bool
	EnablePunctuation bool
	MinSpeakers       int
	MaxSpeakers       int
	Model             string
}

// ProgressEvent reports the observed completion of a remote operation.
type ProgressEvent struct {
	PercentComplete int  `json:"percentComplete"`
	IsTerminal      bool `json:"isTerminal"`
}

// RecognizedWord is a single recognized word with its diarization label.
// SpeakerTag 0 means no speaker was assigned.
type RecognizedWord struct {
	Text        string        `json:"text"`
	SpeakerTag  int           `json:"speakerTag"`
	StartOffset time.Duration `json:"startOffset"`
	EndOffset   time.Duration `json:"endOffset"`
}

// SpeakerTextBlock is a maximal run of consecutive words from one speaker.
type SpeakerTextBlock struct {
	SpeakerTag int    `json:"speakerTag"`
	Text       string `json:"text"`
}

// TranscriptionResult is the persisted output of a successful run.
type TranscriptionResult struct {
	AudioPath    string             `json:"audioPath"`
	AudioURI     string             `json:"audioUri,omitempty"`
	LanguageCode string             `json:"languageCode"`
	Created      time.Time          `json:"created"`
	TextBlocks   []SpeakerTextBlock `json:"textBlocks"`
}
