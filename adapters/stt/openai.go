package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// OpenAIConfig configures the Whisper transcription API
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAISpeechToText transcribes chunks with the OpenAI audio API
type OpenAISpeechToText struct {
	client *openai.Client
	model  string
}

// NewOpenAISpeechToText creates a new OpenAI transcription client
func NewOpenAISpeechToText(config OpenAIConfig) (*OpenAISpeechToText, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAISpeechToText{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

func (o *OpenAISpeechToText) Name() string {
	return "openai"
}

func (o *OpenAISpeechToText) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error) {
	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return entities.Transcription{}, err
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:                  o.model,
		FilePath:               "chunk.wav",
		Reader:                 bytes.NewReader(wav),
		Language:               language,
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularityWord},
	})
	if err != nil {
		return entities.Transcription{}, mapOpenAIError(err)
	}

	words := make([]entities.Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, entities.Word{Word: w.Word, Start: w.Start, End: w.End})
	}

	return entities.Transcription{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Words:    entities.SupportedWords(words),
	}, nil
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &entities.AnalysisCallError{
			Err:       fmt.Errorf("openai transcription failed: %w", err),
			Retryable: entities.RetryableHTTPStatus(apiErr.HTTPStatusCode),
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &entities.AnalysisCallError{
			Err:       fmt.Errorf("openai transcription failed: %w", err),
			Retryable: entities.RetryableHTTPStatus(reqErr.HTTPStatusCode),
		}
	}
	// transport level failure
	return &entities.AnalysisCallError{Err: fmt.Errorf("openai transcription failed: %w", err), Retryable: true}
}
