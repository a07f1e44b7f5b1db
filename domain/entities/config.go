package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StrategySilenceAtEndOfChunk is the only buffering strategy shipped.
const StrategySilenceAtEndOfChunk = "silence_at_the_end_of_chunk"

// ProcessingArgs are the buffering-policy parameters.
type ProcessingArgs struct {
	ChunkLengthSeconds float64 `json:"chunk_length_seconds" yaml:"chunk_length_seconds"`
	ChunkOffsetSeconds float64 `json:"chunk_offset_seconds" yaml:"chunk_offset_seconds"`
}

// SessionConfig is the client-controlled configuration of one session.
// Values are immutable once stored; updates produce a new value.
type SessionConfig struct {
	// Language is nil for auto-detection.
	Language           *string        `json:"language"`
	ProcessingStrategy string         `json:"processing_strategy"`
	ProcessingArgs     ProcessingArgs `json:"processing_args"`
	ErrorIfNotRealtime bool           `json:"error_if_not_realtime"`
}

// DefaultSessionConfig returns the configuration a fresh session starts with.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Language:           nil,
		ProcessingStrategy: StrategySilenceAtEndOfChunk,
		ProcessingArgs: ProcessingArgs{
			ChunkLengthSeconds: 3,
			ChunkOffsetSeconds: 0.1,
		},
	}
}

// LanguageHint returns the language code or "" for auto-detection.
func (c SessionConfig) LanguageHint() string {
	if c.Language == nil {
		return ""
	}
	return *c.Language
}

// Validate checks the required invariants of a configuration.
func (c SessionConfig) Validate() error {
	if c.ProcessingStrategy == "" {
		return &ConfigValidationError{Field: "processing_strategy", Message: "is required"}
	}
	if c.ProcessingArgs.ChunkLengthSeconds <= 0 {
		return &ConfigValidationError{Field: "processing_args.chunk_length_seconds", Message: "must be positive"}
	}
	if c.ProcessingArgs.ChunkOffsetSeconds < 0 {
		return &ConfigValidationError{Field: "processing_args.chunk_offset_seconds", Message: "must be non-negative"}
	}
	return nil
}

// ApplyPatch merges a partial JSON update over c and validates the result.
// Absent fields keep their value, "language": null resets to auto-detection and
// processing_args fields merge one by one. Unknown fields are ignored.
// On any error c is left as it was; the caller keeps using it.
func (c SessionConfig) ApplyPatch(data json.RawMessage) (SessionConfig, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return c, &ConfigValidationError{Field: "data", Message: "must be a JSON object"}
	}

	next := c
	if raw, ok := fields["language"]; ok {
		if isNull(raw) {
			next.Language = nil
		} else {
			var lang string
			if err := json.Unmarshal(raw, &lang); err != nil {
				return c, &ConfigValidationError{Field: "language", Message: "must be a string or null"}
			}
			if lang == "" {
				next.Language = nil
			} else {
				next.Language = &lang
			}
		}
	}

	if raw, ok := fields["processing_strategy"]; ok {
		if err := json.Unmarshal(raw, &next.ProcessingStrategy); err != nil {
			return c, &ConfigValidationError{Field: "processing_strategy", Message: "must be a string"}
		}
	}

	if raw, ok := fields["processing_args"]; ok && !isNull(raw) {
		var args map[string]json.RawMessage
		if err := json.Unmarshal(raw, &args); err != nil {
			return c, &ConfigValidationError{Field: "processing_args", Message: "must be an object"}
		}
		if err := decodeFloat(args, "chunk_length_seconds", &next.ProcessingArgs.ChunkLengthSeconds); err != nil {
			return c, err
		}
		if err := decodeFloat(args, "chunk_offset_seconds", &next.ProcessingArgs.ChunkOffsetSeconds); err != nil {
			return c, err
		}
		// older clients pass the flag with the strategy arguments
		if rawFlag, ok := args["error_if_not_realtime"]; ok {
			if err := json.Unmarshal(rawFlag, &next.ErrorIfNotRealtime); err != nil {
				return c, &ConfigValidationError{Field: "processing_args.error_if_not_realtime", Message: "must be a boolean"}
			}
		}
	}

	if raw, ok := fields["error_if_not_realtime"]; ok {
		if err := json.Unmarshal(raw, &next.ErrorIfNotRealtime); err != nil {
			return c, &ConfigValidationError{Field: "error_if_not_realtime", Message: "must be a boolean"}
		}
	}

	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

func decodeFloat(args map[string]json.RawMessage, key string, dst *float64) error {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return &ConfigValidationError{Field: "processing_args." + key, Message: fmt.Sprintf("must be a number, got %s", raw)}
	}
	*dst = v
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
