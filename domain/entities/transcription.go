package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Unsupported marks fields an ASR engine cannot report.
const Unsupported = "unsupported"

// Segment is one detected speech interval, in seconds from the start of the chunk.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Word is a single recognized word with timing.
type Word struct {
	Word        string   `json:"word"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Probability *float64 `json:"probability"`
}

// Words holds word timings. The zero value means the engine does not report
// words and encodes as the "unsupported" sentinel.
type Words struct {
	Items     []Word
	Supported bool
}

// SupportedWords wraps word timings reported by an engine.
func SupportedWords(items []Word) Words {
	return Words{Items: items, Supported: true}
}

func (w Words) MarshalJSON() ([]byte, error) {
	if !w.Supported {
		return json.Marshal(Unsupported)
	}
	if w.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w.Items)
}

func (w *Words) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s != Unsupported {
			return fmt.Errorf("unexpected words value %q", s)
		}
		*w = Words{}
		return nil
	}
	var items []Word
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	*w = Words{Items: items, Supported: true}
	return nil
}

// Transcription is what an ASR engine returns for one chunk.
type Transcription struct {
	Text                string   `json:"text"`
	Language            string   `json:"language"`
	LanguageProbability *float64 `json:"language_probability"`
	Words               Words    `json:"words"`
}

// Normalize fills fields the engine left empty with the sentinel so the
// outbound shape is stable.
func (t Transcription) Normalize() Transcription {
	if t.Language == "" {
		t.Language = Unsupported
	}
	return t
}

// TranscriptionResult is the outbound message sent to a client.
type TranscriptionResult struct {
	Transcription
	// ProcessingTime is wall clock seconds spent on VAD and ASR.
	ProcessingTime float64 `json:"processing_time"`
}
