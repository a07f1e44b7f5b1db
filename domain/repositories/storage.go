package repositories

import (
	"context"
	"time"

	"github.com/chkda/transcription-service/domain/entities"
)

// TranscriptArchive stores delivered transcriptions
type TranscriptArchive interface {
	Save(ctx context.Context, record *entities.TranscriptRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.TranscriptRecord, error)
	// Purge deletes records created before the cutoff and returns how many were removed
	Purge(ctx context.Context, before time.Time) (int64, error)
}
