// Package google provides a Google Cloud Speech-to-Text long-running recognizer.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/observability/logging"
	"speech-batch-transcriber/internal/service/credentials"
	"speech-batch-transcriber/internal/service/storage"
	"speech-batch-transcriber/internal/service/stt"
)

// maxInlineBytes is the largest audio the API accepts as inline content.
const maxInlineBytes = 10 * 1024 * 1024

// Config holds Google Speech-to-Text client configuration.
type Config struct {
	// CredentialsPath is a service account JSON file. Empty uses
	// Application Default Credentials.
	CredentialsPath string
}

// Adapter implements stt.Recognizer using LongRunningRecognize.
type Adapter struct {
	client *speech.Client
	log    zerolog.Logger
}

var _ stt.Recognizer = (*Adapter)(nil)

type operation struct {
	op *speech.LongRunningRecognizeOperation
}

func (o *operation) Name() string { return o.op.Name() }

// New creates a Google long-running recognizer.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	creds, err := credentials.Load(ctx, cfg.CredentialsPath, speech.DefaultAuthScopes()...)
	if err != nil {
		return nil, err
	}

	c, err := speech.NewClient(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Adapter{
		client: c,
		log:    logging.WithComponent("stt-google"),
	}, nil
}

// Submit starts a LongRunningRecognize job.
func (a *Adapter) Submit(ctx context.Context, req models.RecognitionRequest) (stt.Status, error) {
	r, err := buildRequest(req)
	if err != nil {
		return stt.Status{}, err
	}

	op, err := a.client.LongRunningRecognize(ctx, r)
	if err != nil {
		return stt.Status{}, fmt.Errorf("long running recognize: %w", err)
	}
	o := &operation{op: op}
	if op.Done() {
		// Already finished: Poll decodes the response or fault without a round trip.
		return a.poll(ctx, o)
	}
	return a.statusOf(o, nil), nil
}

// PollOnce makes a single GetOperation round trip.
func (a *Adapter) PollOnce(ctx context.Context, h stt.Handle) (stt.Status, error) {
	o, ok := h.(*operation)
	if !ok || o == nil || o.op == nil {
		return stt.Status{}, fmt.Errorf("handle %v is not a google speech operation", h)
	}
	return a.poll(ctx, o)
}

func (a *Adapter) poll(ctx context.Context, o *operation) (stt.Status, error) {
	resp, err := o.op.Poll(ctx)
	if err != nil {
		if o.op.Done() {
			st := a.statusOf(o, nil)
			st.Done = true
			st.FaultMessage = faultMessage(err)
			return st, nil
		}
		return stt.Status{}, fmt.Errorf("poll %s: %w", o.Name(), err)
	}
	return a.statusOf(o, resp), nil
}

// Close closes the speech client.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) statusOf(o *operation, resp *speechpb.LongRunningRecognizeResponse) stt.Status {
	st := stt.Status{
		Handle: o,
		Done:   o.op.Done(),
	}

	md, err := o.op.Metadata()
	if err != nil {
		a.log.Warn().Err(err).Str("operation", o.Name()).Msg("Unreadable operation metadata")
	} else if md != nil {
		st.ProgressPercent = int(md.GetProgressPercent())
		if raw, err := protojson.Marshal(md); err == nil {
			a.log.Debug().Str("operation", o.Name()).RawJSON("metadata", raw).Msg("Operation metadata")
		}
	}

	if resp != nil {
		st.Done = true
		st.Words = wordsFrom(resp)
	}
	return st
}

func buildRequest(req models.RecognitionRequest) (*speechpb.LongRunningRecognizeRequest, error) {
	encoding, err := audioEncoding(req.Encoding)
	if err != nil {
		return nil, err
	}

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(req.SampleRateHz),
		LanguageCode:               req.LanguageCode,
		EnableAutomaticPunctuation: req.EnablePunctuation,
		EnableWordTimeOffsets:      true,
		Model:                      req.Model,
	}
	if req.EnableDiarization {
		cfg.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(req.MinSpeakers),
			MaxSpeakerCount:          int32(req.MaxSpeakers),
		}
	}

	audio, err := recognitionAudio(req.AudioLocation)
	if err != nil {
		return nil, err
	}
	return &speechpb.LongRunningRecognizeRequest{Config: cfg, Audio: audio}, nil
}

func audioEncoding(e models.AudioEncoding) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch e {
	case models.EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16, nil
	case models.EncodingFLAC:
		return speechpb.RecognitionConfig_FLAC, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding %s", e)
	}
}

func recognitionAudio(location string) (*speechpb.RecognitionAudio, error) {
	if storage.IsRemote(location) {
		return &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: location},
		}, nil
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read audio %s: %w", location, err)
	}
	if len(data) > maxInlineBytes {
		return nil, fmt.Errorf("audio %s is %d bytes, inline content is limited to %d bytes", location, len(data), maxInlineBytes)
	}
	return &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
	}, nil
}

// wordsFrom flattens the top alternative of every result, in order. Words
// with blank text are skipped.
func wordsFrom(resp *speechpb.LongRunningRecognizeResponse) []models.RecognizedWord {
	var words []models.RecognizedWord
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		for _, w := range alts[0].GetWords() {
			if strings.TrimSpace(w.GetWord()) == "" {
				continue
			}
			words = append(words, models.RecognizedWord{
				Text:        w.GetWord(),
				SpeakerTag:  int(w.GetSpeakerTag()),
				StartOffset: w.GetStartTime().AsDuration(),
				EndOffset:   w.GetEndTime().AsDuration(),
			})
		}
	}
	return words
}

func faultMessage(err error) string {
	s := status.Convert(err)
	if s.Message() == "" {
		return s.Code().String()
	}
	return fmt.Sprintf("%s (%s)", s.Message(), s.Code())
}
