package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
	"github.com/chkda/transcription-service/internal/metrics"
)

type slowVAD struct {
	delay time.Duration
}

func (s *slowVAD) Name() string { return "slow-vad" }

func (s *slowVAD) DetectActivity(ctx context.Context, pcm []byte, format audio.Format) ([]entities.Segment, error) {
	select {
	case <-time.After(s.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestGateway(vad *fakeVAD, asr *fakeASR, config GatewayConfig) (*AnalysisGateway, *metrics.Metrics) {
	m := metrics.New()
	return NewAnalysisGateway(vad, asr, config, m, zap.NewNop()), m
}

func TestGatewayRetriesRetryableErrors(t *testing.T) {
	asr := &fakeASR{
		failFirst: 2,
		failErr:   &entities.AnalysisCallError{Err: errors.New("503"), Retryable: true},
		result:    entities.Transcription{Text: "ok"},
	}
	gateway, m := newTestGateway(&fakeVAD{}, asr, GatewayConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	result, err := gateway.Transcribe(context.Background(), []byte{0, 0}, audio.DefaultFormat(), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("Expected ok, got %q", result.Text)
	}
	if asr.Calls() != 3 {
		t.Errorf("Expected 3 attempts, got %d", asr.Calls())
	}
	if got := testutil.ToFloat64(m.AnalysisRetries.WithLabelValues(entities.StageASR, "fake-asr")); got != 2 {
		t.Errorf("Expected 2 retries recorded, got %f", got)
	}
}

func TestGatewayStopsOnPermanentError(t *testing.T) {
	asr := &fakeASR{failFirst: 10, failErr: errors.New("bad request")}
	gateway, _ := newTestGateway(&fakeVAD{}, asr, GatewayConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	_, err := gateway.Transcribe(context.Background(), []byte{0, 0}, audio.DefaultFormat(), "")
	var callErr *entities.AnalysisCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("Expected AnalysisCallError, got %v", err)
	}
	if callErr.Stage != entities.StageASR || callErr.Engine != "fake-asr" || callErr.Retryable {
		t.Errorf("Unexpected error fields: %+v", callErr)
	}
	if asr.Calls() != 1 {
		t.Errorf("Expected a single attempt, got %d", asr.Calls())
	}
}

func TestGatewayExhaustsRetries(t *testing.T) {
	asr := &fakeASR{failFirst: 10, failErr: &entities.AnalysisCallError{Err: errors.New("429"), Retryable: true}}
	gateway, m := newTestGateway(&fakeVAD{}, asr, GatewayConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})

	if _, err := gateway.Transcribe(context.Background(), nil, audio.DefaultFormat(), ""); err == nil {
		t.Fatal("Expected error after retries")
	}
	if asr.Calls() != 3 {
		t.Errorf("Expected 3 attempts, got %d", asr.Calls())
	}
	if got := testutil.ToFloat64(m.AnalysisFailures.WithLabelValues(entities.StageASR, "fake-asr")); got != 1 {
		t.Errorf("Expected 1 failure recorded, got %f", got)
	}
}

func TestGatewayTimeout(t *testing.T) {
	m := metrics.New()
	gateway := NewAnalysisGateway(&slowVAD{delay: time.Second}, &fakeASR{}, GatewayConfig{Timeout: 10 * time.Millisecond}, m, zap.NewNop())

	start := time.Now()
	_, err := gateway.DetectActivity(context.Background(), []byte{0, 0}, audio.DefaultFormat())

	var callErr *entities.AnalysisCallError
	if !errors.As(err, &callErr) || callErr.Stage != entities.StageVAD {
		t.Fatalf("Expected VAD AnalysisCallError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Expected the call to be cut off by the timeout")
	}
}

func TestGatewayCancelledContext(t *testing.T) {
	vad := &fakeVAD{release: make(chan struct{})}
	gateway, _ := newTestGateway(vad, &fakeASR{}, GatewayConfig{MaxRetries: 5})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := gateway.DetectActivity(ctx, []byte{0, 0}, audio.DefaultFormat())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if vad.Calls() != 1 {
		t.Errorf("Expected no retry after cancellation, got %d calls", vad.Calls())
	}
}

func TestGatewaySortsSegments(t *testing.T) {
	vad := &fakeVAD{segments: []entities.Segment{{Start: 2, End: 3}, {Start: 0, End: 1}}}
	gateway, _ := newTestGateway(vad, &fakeASR{}, GatewayConfig{})

	segments, err := gateway.DetectActivity(context.Background(), nil, audio.DefaultFormat())
	if err != nil {
		t.Fatalf("DetectActivity failed: %v", err)
	}
	if segments[0].Start != 0 || segments[1].Start != 2 {
		t.Errorf("Expected segments ordered by start, got %+v", segments)
	}
}

func TestGatewayNormalizesTranscription(t *testing.T) {
	asr := &fakeASR{result: entities.Transcription{Text: "hi"}}
	gateway, _ := newTestGateway(&fakeVAD{}, asr, GatewayConfig{})

	result, err := gateway.Transcribe(context.Background(), nil, audio.DefaultFormat(), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Language != entities.Unsupported {
		t.Errorf("Expected unsupported language sentinel, got %q", result.Language)
	}
	if result.Words.Supported {
		t.Error("Expected unsupported words")
	}
}

func TestGatewayLimitsConcurrency(t *testing.T) {
	vad := &fakeVAD{release: make(chan struct{})}
	gateway, _ := newTestGateway(vad, &fakeASR{}, GatewayConfig{MaxConcurrent: 1})

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			gateway.DetectActivity(context.Background(), nil, audio.DefaultFormat())
			done <- struct{}{}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if calls := vad.Calls(); calls != 1 {
		t.Errorf("Expected one call in flight, got %d", calls)
	}
	close(vad.release)
	<-done
	<-done
	if calls := vad.Calls(); calls != 2 {
		t.Errorf("Expected both calls to finish, got %d", calls)
	}
}

func TestGatewayBackoffReleasesSlot(t *testing.T) {
	asr := &fakeASR{
		failFirst: 100,
		failErr:   &entities.AnalysisCallError{Err: errors.New("503"), Retryable: true},
	}
	gateway, _ := newTestGateway(&fakeVAD{}, asr, GatewayConfig{
		MaxConcurrent: 1,
		MaxRetries:    3,
		RetryBackoff:  200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	failing := make(chan struct{})
	go func() {
		defer close(failing)
		gateway.Transcribe(ctx, []byte{0, 0}, audio.DefaultFormat(), "")
	}()
	defer func() {
		cancel()
		<-failing
	}()

	waitFor(t, "first failed attempt", func() bool { return asr.Calls() >= 1 })

	started := time.Now()
	if _, err := gateway.DetectActivity(context.Background(), nil, audio.DefaultFormat()); err != nil {
		t.Fatalf("DetectActivity failed: %v", err)
	}
	if waited := time.Since(started); waited > 150*time.Millisecond {
		t.Errorf("Expected other callers to run during backoff, waited %v", waited)
	}
}

func TestGatewayDoesNotModifyEngineError(t *testing.T) {
	engineErr := &entities.AnalysisCallError{Err: errors.New("bad audio")}
	asr := &fakeASR{failFirst: 1, failErr: engineErr}
	gateway, _ := newTestGateway(&fakeVAD{}, asr, GatewayConfig{})

	_, err := gateway.Transcribe(context.Background(), []byte{0, 0}, audio.DefaultFormat(), "")

	var callErr *entities.AnalysisCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("Expected AnalysisCallError, got %v", err)
	}
	if callErr.Stage != entities.StageASR || callErr.Engine != "fake-asr" {
		t.Errorf("Expected stage and engine filled in, got %+v", callErr)
	}
	if callErr == engineErr {
		t.Error("Expected a copy of the engine error")
	}
	if engineErr.Stage != "" || engineErr.Engine != "" {
		t.Errorf("Expected engine error untouched, got %+v", engineErr)
	}
}
