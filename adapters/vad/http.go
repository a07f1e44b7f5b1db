package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// HTTPConfig points at a remote VAD worker
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPDetector posts chunks as WAV to a remote VAD worker.
// The worker answers with {"segments": [{"start", "end", "confidence"}]}.
type HTTPDetector struct {
	config     HTTPConfig
	httpClient *http.Client
}

type httpResponse struct {
	Segments []entities.Segment `json:"segments"`
}

// NewHTTPDetector creates a new remote detector
func NewHTTPDetector(config HTTPConfig) (*HTTPDetector, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("vad endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPDetector{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (d *HTTPDetector) Name() string {
	return "http"
}

func (d *HTTPDetector) DetectActivity(ctx context.Context, pcm []byte, format audio.Format) ([]entities.Segment, error) {
	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint, bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")
	if d.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.APIKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &entities.AnalysisCallError{Err: fmt.Errorf("HTTP request failed: %w", err), Retryable: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &entities.AnalysisCallError{
			Err:       fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body)),
			Retryable: entities.RetryableHTTPStatus(resp.StatusCode),
		}
	}

	var parsed httpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return parsed.Segments, nil
}
