package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/usecase"
)

// ConfigUpdate is the data of a config control message. Zero fields are left out
// of the patch so the server keeps its current value.
type ConfigUpdate struct {
	Language string
	// AutoDetectLanguage sends "language": null and wins over Language
	AutoDetectLanguage bool
	ProcessingStrategy string
	ChunkLengthSeconds float64
	ChunkOffsetSeconds *float64
	ErrorIfNotRealtime *bool
}

// MarshalJSON encodes the update as a partial config patch
func (u ConfigUpdate) MarshalJSON() ([]byte, error) {
	patch := make(map[string]interface{})

	switch {
	case u.AutoDetectLanguage:
		patch["language"] = nil
	case u.Language != "":
		patch["language"] = u.Language
	}
	if u.ProcessingStrategy != "" {
		patch["processing_strategy"] = u.ProcessingStrategy
	}

	args := make(map[string]float64)
	if u.ChunkLengthSeconds != 0 {
		args["chunk_length_seconds"] = u.ChunkLengthSeconds
	}
	if u.ChunkOffsetSeconds != nil {
		args["chunk_offset_seconds"] = *u.ChunkOffsetSeconds
	}
	if len(args) > 0 {
		patch["processing_args"] = args
	}

	if u.ErrorIfNotRealtime != nil {
		patch["error_if_not_realtime"] = *u.ErrorIfNotRealtime
	}
	return json.Marshal(patch)
}

// EncodeConfigMessage builds the text frame for a config update
func EncodeConfigMessage(update ConfigUpdate) ([]byte, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("encode config update: %w", err)
	}
	return json.Marshal(usecase.ControlMessage{
		Type: usecase.MessageTypeConfig,
		Data: data,
	})
}

// DecodeTranscriptionResult parses an outbound transcription frame
func DecodeTranscriptionResult(payload []byte) (entities.TranscriptionResult, error) {
	var result entities.TranscriptionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return result, fmt.Errorf("invalid transcription frame: %w", err)
	}
	if result.Text == "" {
		return result, errors.New("transcription frame without text")
	}
	return result, nil
}

// FrameTypeName names a websocket frame type for logs
func FrameTypeName(messageType int) string {
	switch messageType {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	case websocket.CloseMessage:
		return "close"
	case websocket.PingMessage:
		return "ping"
	case websocket.PongMessage:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}
