package api

import "github.com/chkda/transcription-service/domain/entities"

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Sessions int    `json:"sessions"`
}

// SessionListResponse lists live sessions
type SessionListResponse struct {
	Sessions []entities.SessionStats `json:"sessions"`
	Count    int                     `json:"count"`
}

// TranscriptListResponse lists archived transcripts of a session
type TranscriptListResponse struct {
	SessionID   string                       `json:"session_id"`
	Transcripts []*entities.TranscriptRecord `json:"transcripts"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
