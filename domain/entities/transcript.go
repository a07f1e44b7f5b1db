package entities

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptRecord is an archived transcription delivered to a session.
type TranscriptRecord struct {
	ID                  string    `json:"id" bson:"_id"`
	SessionID           string    `json:"session_id" bson:"session_id"`
	Sequence            uint64    `json:"sequence" bson:"sequence"`
	Text                string    `json:"text" bson:"text"`
	Language            string    `json:"language" bson:"language"`
	LanguageProbability *float64  `json:"language_probability,omitempty" bson:"language_probability,omitempty"`
	ProcessingTime      float64   `json:"processing_time" bson:"processing_time"`
	AudioSeconds        float64   `json:"audio_seconds" bson:"audio_seconds"`
	CreatedAt           time.Time `json:"created_at" bson:"created_at"`
}

// NewTranscriptRecord builds the archive record for a delivered result.
func NewTranscriptRecord(run *ProcessingRun, result TranscriptionResult) *TranscriptRecord {
	return &TranscriptRecord{
		ID:                  uuid.New().String(),
		SessionID:           run.SessionID,
		Sequence:            run.Sequence,
		Text:                result.Text,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		ProcessingTime:      result.ProcessingTime,
		AudioSeconds:        run.Seconds(),
		CreatedAt:           time.Now(),
	}
}
