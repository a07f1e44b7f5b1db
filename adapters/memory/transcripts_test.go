package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/domain/repositories"
)

var _ repositories.TranscriptArchive = (*TranscriptArchive)(nil)

func record(session string, seq uint64, created time.Time) *entities.TranscriptRecord {
	return &entities.TranscriptRecord{
		ID:        fmt.Sprintf("%s-%d", session, seq),
		SessionID: session,
		Sequence:  seq,
		Text:      "hello",
		Language:  "en",
		CreatedAt: created,
	}
}

func TestTranscriptArchive(t *testing.T) {
	ctx := context.Background()
	archive := NewTranscriptArchive()
	now := time.Now()

	for seq := uint64(1); seq <= 3; seq++ {
		if err := archive.Save(ctx, record("a", seq, now)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := archive.Save(ctx, record("b", 1, now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := archive.Save(ctx, nil); err == nil {
		t.Error("Expected error for nil record")
	}

	t.Run("ListBySession", func(t *testing.T) {
		records, err := archive.ListBySession(ctx, "a", 0)
		if err != nil {
			t.Fatalf("ListBySession failed: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(records))
		}
		for i, r := range records {
			if r.Sequence != uint64(i+1) {
				t.Errorf("Expected sequence %d at %d, got %d", i+1, i, r.Sequence)
			}
		}
	})

	t.Run("Limit", func(t *testing.T) {
		records, _ := archive.ListBySession(ctx, "a", 2)
		if len(records) != 2 {
			t.Errorf("Expected 2 records, got %d", len(records))
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		records, err := archive.ListBySession(ctx, "missing", 0)
		if err != nil || len(records) != 0 {
			t.Errorf("Expected empty result, got %v, %v", records, err)
		}
	})

	t.Run("Purge", func(t *testing.T) {
		removed, err := archive.Purge(ctx, now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("Expected 1 record removed, got %d", removed)
		}
		if records, _ := archive.ListBySession(ctx, "b", 0); len(records) != 0 {
			t.Errorf("Expected session b to be purged, got %d", len(records))
		}
		if records, _ := archive.ListBySession(ctx, "a", 0); len(records) != 3 {
			t.Errorf("Expected session a untouched, got %d", len(records))
		}
	})
}

func TestTranscriptArchiveCopiesRecords(t *testing.T) {
	ctx := context.Background()
	archive := NewTranscriptArchive()
	r := record("a", 1, time.Now())
	_ = archive.Save(ctx, r)
	r.Text = "changed"

	records, _ := archive.ListBySession(ctx, "a", 0)
	if records[0].Text != "hello" {
		t.Errorf("Expected stored copy to be unaffected, got %q", records[0].Text)
	}
}
