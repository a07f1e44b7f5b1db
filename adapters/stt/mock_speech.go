package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// MockSpeechToText is a placeholder recognizer for local development
type MockSpeechToText struct {
	logger *zap.Logger
	text   string
}

// NewMockSpeechToText creates a new mock recognizer. An empty text makes it
// describe the chunk it received.
func NewMockSpeechToText(text string, logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger, text: text}
}

func (s *MockSpeechToText) Name() string {
	return "mock"
}

func (s *MockSpeechToText) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return entities.Transcription{}, err
	}

	seconds := format.Seconds(len(pcm))
	s.logger.Debug("Mock transcription",
		zap.Int("audioBytes", len(pcm)),
		zap.Float64("audioSeconds", seconds),
		zap.String("language", language))

	text := s.text
	if text == "" {
		text = fmt.Sprintf("mock transcription of %.2f seconds", seconds)
	}
	if language == "" {
		language = "en"
	}
	return entities.Transcription{
		Text:     text,
		Language: language,
		Words:    entities.SupportedWords([]entities.Word{{Word: text, Start: 0, End: seconds}}),
	}, nil
}
