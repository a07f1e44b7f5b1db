package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyBusy is returned when a processing run is requested while one is in flight.
	ErrAlreadyBusy = errors.New("processing run already in flight")

	// ErrSessionNotFound is returned for operations on an unknown or removed session.
	ErrSessionNotFound = errors.New("session not found")
)

// Analysis stages
const (
	StageVAD = "vad"
	StageASR = "asr"
)

// ProtocolError is a malformed or unexpected inbound message.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConfigValidationError rejects a configuration update.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e *ConfigValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// AnalysisCallError is a failed or timed out VAD/ASR call.
type AnalysisCallError struct {
	Stage     string
	Engine    string
	Err       error
	Retryable bool
}

func (e *AnalysisCallError) Error() string {
	return fmt.Sprintf("%s call to %s failed: %v", e.Stage, e.Engine, e.Err)
}

func (e *AnalysisCallError) Unwrap() error {
	return e.Err
}

// DeliveryError is a failed outbound send.
type DeliveryError struct {
	SessionID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to session %s failed: %v", e.SessionID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// RetryableHTTPStatus reports whether an engine HTTP status is worth retrying
func RetryableHTTPStatus(code int) bool {
	return code == 429 || code >= 500
}
