// Package speaker groups diarized words into speaker-attributed text blocks.
package speaker

import (
	"fmt"
	"strings"

	"speech-batch-transcriber/internal/models"
)

// Assemble groups ordered words into blocks, one per maximal run of
// consecutive words sharing a speaker tag. Words tagged 0 are dropped before
// runs are formed, so they never split a run.
func Assemble(words []models.RecognizedWord) []models.SpeakerTextBlock {
	blocks := make([]models.SpeakerTextBlock, 0)

	var (
		run    []string
		runTag int
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		blocks = append(blocks, models.SpeakerTextBlock{
			SpeakerTag: runTag,
			Text:       strings.Join(run, " "),
		})
		run = run[:0]
	}

	for _, w := range words {
		if w.SpeakerTag == 0 {
			continue
		}
		if len(run) > 0 && w.SpeakerTag != runTag {
			flush()
		}
		runTag = w.SpeakerTag
		run = append(run, w.Text)
	}
	flush()

	return blocks
}

// Render formats blocks as "Speaker {tag}: {text}" lines joined by newlines.
func Render(blocks []models.SpeakerTextBlock) string {
	lines := make([]string, len(blocks))
	for i, b := range blocks {
		lines[i] = fmt.Sprintf("Speaker %d: %s", b.SpeakerTag, b.Text)
	}
	return strings.Join(lines, "\n")
}
