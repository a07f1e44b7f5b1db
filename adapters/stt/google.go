package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// recognizeClient is the subset of the Cloud Speech client used here
type recognizeClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// GoogleConfig configures Cloud Speech-to-Text
type GoogleConfig struct {
	// DefaultLanguage is used when the session asks for auto-detection;
	// Cloud Speech v1 always needs a language code.
	DefaultLanguage string
	Model           string
	CredentialsFile string
	Endpoint        string
}

// GoogleSpeechToText transcribes chunks with Cloud Speech-to-Text
type GoogleSpeechToText struct {
	client recognizeClient
	config GoogleConfig
}

// NewGoogleSpeechToText creates a Cloud Speech client
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig) (*GoogleSpeechToText, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return newGoogleSpeechToText(client, config), nil
}

func newGoogleSpeechToText(client recognizeClient, config GoogleConfig) *GoogleSpeechToText {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en-US"
	}
	return &GoogleSpeechToText{client: client, config: config}
}

func (g *GoogleSpeechToText) Name() string {
	return "google"
}

// Transcribe converts a PCM chunk to text (non-streaming)
func (g *GoogleSpeechToText) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error) {
	if language == "" {
		language = g.config.DefaultLanguage
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:              speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:       int32(format.SampleRate),
			AudioChannelCount:     int32(format.Channels),
			LanguageCode:          language,
			Model:                 g.config.Model,
			EnableWordTimeOffsets: true,
			EnableWordConfidence:  true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	})
	if err != nil {
		return entities.Transcription{}, mapGRPCError(err)
	}

	result := entities.Transcription{
		Language: language,
		Words:    entities.SupportedWords(nil),
	}

	var texts []string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		// take the best alternative
		best := r.GetAlternatives()[0]
		texts = append(texts, strings.TrimSpace(best.GetTranscript()))
		if code := r.GetLanguageCode(); code != "" {
			result.Language = code
		}

		for _, w := range best.GetWords() {
			confidence := float64(w.GetConfidence())
			result.Words.Items = append(result.Words.Items, entities.Word{
				Word:        w.GetWord(),
				Start:       w.GetStartTime().AsDuration().Seconds(),
				End:         w.GetEndTime().AsDuration().Seconds(),
				Probability: &confidence,
			})
		}
	}
	result.Text = strings.Join(texts, " ")

	return result, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func mapGRPCError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	s, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("speech recognize failed: %w", err)
	}
	switch s.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted, codes.DeadlineExceeded:
		return &entities.AnalysisCallError{Err: fmt.Errorf("speech recognize failed: %w", err), Retryable: true}
	default:
		return &entities.AnalysisCallError{Err: fmt.Errorf("speech recognize failed: %w", err)}
	}
}
