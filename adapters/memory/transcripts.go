package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chkda/transcription-service/domain/entities"
)

// TranscriptArchive is an in-memory implementation of repositories.TranscriptArchive.
// Records live until purged or the process exits.
type TranscriptArchive struct {
	mu        sync.RWMutex
	bySession map[string][]*entities.TranscriptRecord // session_id -> records in save order
}

// NewTranscriptArchive creates a new in-memory archive
func NewTranscriptArchive() *TranscriptArchive {
	return &TranscriptArchive{
		bySession: make(map[string][]*entities.TranscriptRecord),
	}
}

func (a *TranscriptArchive) Save(ctx context.Context, record *entities.TranscriptRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	copied := *record
	a.bySession[record.SessionID] = append(a.bySession[record.SessionID], &copied)
	return nil
}

// ListBySession returns up to limit records ordered by sequence; limit <= 0 means all
func (a *TranscriptArchive) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.TranscriptRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	records := a.bySession[sessionID]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	out := make([]*entities.TranscriptRecord, len(records))
	for i, r := range records {
		copied := *r
		out[i] = &copied
	}
	return out, nil
}

func (a *TranscriptArchive) Purge(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var removed int64
	for sessionID, records := range a.bySession {
		kept := records[:0]
		for _, r := range records {
			if r.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(a.bySession, sessionID)
			continue
		}
		a.bySession[sessionID] = kept
	}
	return removed, nil
}
