package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/domain/repositories"
	"github.com/chkda/transcription-service/internal/audio"
	"github.com/chkda/transcription-service/internal/metrics"
)

const maxRetryBackoff = 5 * time.Second

// GatewayConfig bounds calls to the analysis engines
type GatewayConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxConcurrent int64
}

// AnalysisGateway is the boundary between processing runs and the VAD/ASR engines.
// It applies per-attempt timeouts, retries retryable failures, caps concurrent
// inference and maps every failure to an *entities.AnalysisCallError.
type AnalysisGateway struct {
	vad     repositories.VoiceActivityDetector
	asr     repositories.SpeechRecognizer
	config  GatewayConfig
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAnalysisGateway creates a new analysis gateway
func NewAnalysisGateway(vad repositories.VoiceActivityDetector, asr repositories.SpeechRecognizer, config GatewayConfig, m *metrics.Metrics, logger *zap.Logger) *AnalysisGateway {
	g := &AnalysisGateway{
		vad:     vad,
		asr:     asr,
		config:  config,
		metrics: m,
		logger:  logger,
	}
	if config.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(config.MaxConcurrent)
	}
	return g
}

// DetectActivity runs VAD over a chunk and returns segments ordered by start time
func (g *AnalysisGateway) DetectActivity(ctx context.Context, pcm []byte, format audio.Format) ([]entities.Segment, error) {
	var segments []entities.Segment
	err := g.call(ctx, entities.StageVAD, g.vad.Name(), func(ctx context.Context) error {
		var err error
		segments, err = g.vad.DetectActivity(ctx, pcm, format)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
	return segments, nil
}

// Transcribe runs ASR over a chunk. The result always carries the stable outbound shape.
func (g *AnalysisGateway) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error) {
	var result entities.Transcription
	err := g.call(ctx, entities.StageASR, g.asr.Name(), func(ctx context.Context) error {
		var err error
		result, err = g.asr.Transcribe(ctx, pcm, format, language)
		return err
	})
	if err != nil {
		return entities.Transcription{}, err
	}
	return result.Normalize(), nil
}

func (g *AnalysisGateway) call(ctx context.Context, stage, engine string, fn func(context.Context) error) error {
	started := time.Now()
	defer func() {
		g.metrics.AnalysisDuration.WithLabelValues(stage, engine).Observe(time.Since(started).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.AnalysisRetries.WithLabelValues(stage, engine).Inc()
			g.logger.Debug("Retrying analysis call",
				zap.String("stage", stage),
				zap.String("engine", engine),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			select {
			case <-time.After(g.backoff(attempt)):
			case <-ctx.Done():
				return g.fail(stage, engine, ctx.Err(), false)
			}
		}

		lastErr = g.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// session went away, nothing left to retry for
			return g.fail(stage, engine, ctx.Err(), false)
		}
		if !isRetryable(lastErr) {
			return g.fail(stage, engine, lastErr, false)
		}
	}

	return g.fail(stage, engine, lastErr, true)
}

// attempt holds an inference slot for a single try only, never across a backoff.
func (g *AnalysisGateway) attempt(ctx context.Context, fn func(context.Context) error) error {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer g.sem.Release(1)
	}

	if g.config.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return context.DeadlineExceeded
	}
	return err
}

func (g *AnalysisGateway) backoff(attempt int) time.Duration {
	base := g.config.RetryBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	d := base << (attempt - 1)
	if d > maxRetryBackoff || d <= 0 {
		d = maxRetryBackoff
	}
	return d
}

func (g *AnalysisGateway) fail(stage, engine string, err error, retryable bool) error {
	g.metrics.AnalysisFailures.WithLabelValues(stage, engine).Inc()

	var engineErr *entities.AnalysisCallError
	if errors.As(err, &engineErr) {
		// the engine owns its error value
		callErr := *engineErr
		if callErr.Stage == "" {
			callErr.Stage = stage
		}
		if callErr.Engine == "" {
			callErr.Engine = engine
		}
		return &callErr
	}
	return &entities.AnalysisCallError{Stage: stage, Engine: engine, Err: err, Retryable: retryable}
}

// isRetryable reports whether a single attempt may succeed when repeated.
// Engines signal this through AnalysisCallError.Retryable; a timed out attempt
// is always retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var callErr *entities.AnalysisCallError
	if errors.As(err, &callErr) {
		return callErr.Retryable
	}
	return false
}
