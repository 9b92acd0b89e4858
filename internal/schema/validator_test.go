package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-batch-transcriber/internal/models"
)

func TestValidator_Validate(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	doc := &models.TranscriptionResult{
		AudioPath:    "/data/call.wav",
		AudioURI:     "gs://gcs-tool/6f1c.wav",
		LanguageCode: "en-US",
		Created:      time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		TextBlocks: []models.SpeakerTextBlock{
			{SpeakerTag: 1, Text: "hello there"},
			{SpeakerTag: 2, Text: "hi"},
		},
	}
	assert.NoError(t, v.Validate(doc))

	doc.TextBlocks = []models.SpeakerTextBlock{}
	assert.NoError(t, v.Validate(doc), "empty transcript is valid")

	doc.TextBlocks = []models.SpeakerTextBlock{{SpeakerTag: 1, Text: ""}}
	assert.NoError(t, v.Validate(doc), "tagged block with empty text is valid")
}

func TestValidator_ValidateBytes(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
	}{
		{"missing blocks", `{"audioPath":"a.wav","languageCode":"en-US","created":"2026-10-18T09:00:00Z"}`},
		{"speaker zero", `{"audioPath":"a.wav","languageCode":"en-US","created":"2026-10-18T09:00:00Z","textBlocks":[{"speakerTag":0,"text":"x"}]}`},
		{"bad uri", `{"audioPath":"a.wav","audioUri":"http://x/y","languageCode":"en-US","created":"2026-10-18T09:00:00Z","textBlocks":[]}`},
		{"unknown field", `{"audioPath":"a.wav","languageCode":"en-US","created":"2026-10-18T09:00:00Z","textBlocks":[],"extra":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBytes([]byte(tt.payload))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestValidator_MalformedJSON(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.ValidateBytes([]byte(`{"audioPath":`))
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}
