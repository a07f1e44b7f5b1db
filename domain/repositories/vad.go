package repositories

import (
	"context"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// VoiceActivityDetector finds speech in a PCM chunk
type VoiceActivityDetector interface {
	Name() string
	// DetectActivity returns speech segments ordered by start time; an empty
	// result means the chunk holds no speech.
	DetectActivity(ctx context.Context, pcm []byte, format audio.Format) ([]entities.Segment, error)
}
