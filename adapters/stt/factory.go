package stt

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/repositories"
)

// Engine names
const (
	EngineGoogle = "google"
	EngineOpenAI = "openai"
	EngineGemini = "gemini"
	EngineMock   = "mock"
)

// Options selects and configures an ASR engine
type Options struct {
	Engine   string
	Google   GoogleConfig
	OpenAI   OpenAIConfig
	Gemini   GeminiConfig
	MockText string
}

// New builds the configured recognizer
func New(ctx context.Context, opts Options, logger *zap.Logger) (repositories.SpeechRecognizer, error) {
	switch opts.Engine {
	case EngineGoogle:
		return NewGoogleSpeechToText(ctx, opts.Google)
	case EngineOpenAI:
		return NewOpenAISpeechToText(opts.OpenAI)
	case EngineGemini:
		return NewGeminiSpeechToText(ctx, opts.Gemini)
	case EngineMock, "":
		return NewMockSpeechToText(opts.MockText, logger), nil
	default:
		return nil, fmt.Errorf("unknown asr engine %q", opts.Engine)
	}
}

// Close releases the recognizer's connection if it holds one
func Close(r repositories.SpeechRecognizer) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
