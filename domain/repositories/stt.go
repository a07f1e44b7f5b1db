package repositories

import (
	"context"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// SpeechRecognizer abstracts speech recognition engines
type SpeechRecognizer interface {
	// Name identifies the engine in logs and metrics
	Name() string
	// Transcribe converts a PCM chunk to text. An empty language means auto-detect.
	Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error)
}
