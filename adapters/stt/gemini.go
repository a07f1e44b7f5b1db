package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

const geminiPrompt = `Transcribe the speech in this audio verbatim.
Respond with JSON only: {"text": "<transcript>", "language": "<ISO 639-1 code>"}.
If there is no speech, respond with {"text": "", "language": ""}.`

// GeminiConfig configures Gemini audio transcription
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiSpeechToText transcribes chunks by prompting a Gemini model with inline audio.
// Word timings and language probability are not available.
type GeminiSpeechToText struct {
	generate generateFunc
	model    string
}

type geminiTranscript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// NewGeminiSpeechToText creates a new Gemini client
func NewGeminiSpeechToText(ctx context.Context, config GeminiConfig) (*GeminiSpeechToText, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}

	clientConfig := &genai.ClientConfig{APIKey: config.APIKey, Backend: genai.BackendGeminiAPI}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiSpeechToText{generate: client.Models.GenerateContent, model: config.Model}, nil
}

func (g *GeminiSpeechToText) Name() string {
	return "gemini"
}

func (g *GeminiSpeechToText) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error) {
	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return entities.Transcription{}, err
	}

	prompt := geminiPrompt
	if language != "" {
		prompt += "\nThe speech is in language " + language + "."
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav}},
			{Text: prompt},
		},
	}}
	result, err := g.generate(ctx, g.model, contents, &genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		if ctx.Err() != nil {
			return entities.Transcription{}, ctx.Err()
		}
		return entities.Transcription{}, &entities.AnalysisCallError{
			Err:       fmt.Errorf("gemini transcription: %w", err),
			Retryable: transientMessage(err.Error()),
		}
	}

	raw := strings.TrimSpace(result.Text())
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```json"), "```")

	var parsed geminiTranscript
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return entities.Transcription{}, fmt.Errorf("gemini: unexpected response %q: %w", raw, err)
	}

	lang := parsed.Language
	if lang == "" {
		lang = language
	}
	return entities.Transcription{Text: strings.TrimSpace(parsed.Text), Language: lang}, nil
}

// transientMessage classifies errors that only carry a message
func transientMessage(msg string) bool {
	for _, marker := range []string{"429", "500", "502", "503", "504", "UNAVAILABLE", "RESOURCE_EXHAUSTED", "connection", "timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
