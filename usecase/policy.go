package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
	"github.com/chkda/transcription-service/internal/metrics"
)

// RunOutcome is what a processing run reports back to the delivery path
type RunOutcome struct {
	SessionID string
	Sequence  uint64
	Outcome   string
	Run       *entities.ProcessingRun
	Result    *entities.TranscriptionResult
	Err       error
}

// RunDispatcher is the manager side of a processing run.
// Go runs a tracked background task; Report enqueues a finished run.
type RunDispatcher interface {
	Go(fn func())
	Report(outcome RunOutcome)
}

// BufferingPolicy decides when a session has enough audio and drives its runs
type BufferingPolicy interface {
	Name() string
	// OnAudioAppended evaluates the trigger after an append and, when it fires,
	// starts a processing run in the background. It reports whether a run started.
	OnAudioAppended(ctx context.Context, session *entities.ClientSession, dispatcher RunDispatcher) bool
}

// BufferingOverrides are server-side values that win over client config
type BufferingOverrides struct {
	ChunkLengthSeconds *float64
	ChunkOffsetSeconds *float64
	ErrorIfNotRealtime *bool
}

// Apply returns cfg with the overrides applied
func (o BufferingOverrides) Apply(cfg entities.SessionConfig) entities.SessionConfig {
	if o.ChunkLengthSeconds != nil {
		cfg.ProcessingArgs.ChunkLengthSeconds = *o.ChunkLengthSeconds
	}
	if o.ChunkOffsetSeconds != nil {
		cfg.ProcessingArgs.ChunkOffsetSeconds = *o.ChunkOffsetSeconds
	}
	if o.ErrorIfNotRealtime != nil {
		cfg.ErrorIfNotRealtime = *o.ErrorIfNotRealtime
	}
	return cfg
}

// SilenceAtEndOfChunkConfig tunes the silence-at-end-of-chunk policy
type SilenceAtEndOfChunkConfig struct {
	Overrides BufferingOverrides
	// TrailingSilenceGate defers transcription until the chunk ends in silence
	TrailingSilenceGate bool
	// MaxBufferSeconds forces transcription of a deferred chunk once it grows this long
	MaxBufferSeconds float64
	// RealtimeGrace is how long a slow stream is tolerated before it is flagged
	RealtimeGrace time.Duration
	// DumpDir receives a WAV file per run when set
	DumpDir string
}

// SilenceAtEndOfChunk triggers a run once the live buffer exceeds the chunk
// length, runs VAD and then ASR over the whole moved buffer.
type SilenceAtEndOfChunk struct {
	gateway *AnalysisGateway
	config  SilenceAtEndOfChunkConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSilenceAtEndOfChunk creates the policy
func NewSilenceAtEndOfChunk(gateway *AnalysisGateway, config SilenceAtEndOfChunkConfig, m *metrics.Metrics, logger *zap.Logger) *SilenceAtEndOfChunk {
	return &SilenceAtEndOfChunk{
		gateway: gateway,
		config:  config,
		metrics: m,
		logger:  logger,
	}
}

func (p *SilenceAtEndOfChunk) Name() string {
	return entities.StrategySilenceAtEndOfChunk
}

// effective reads the session config and applies server overrides
func (p *SilenceAtEndOfChunk) effective(session *entities.ClientSession) entities.SessionConfig {
	return p.config.Overrides.Apply(session.Config())
}

func (p *SilenceAtEndOfChunk) OnAudioAppended(ctx context.Context, session *entities.ClientSession, dispatcher RunDispatcher) bool {
	cfg := p.effective(session)
	p.checkRealtime(session, cfg)

	chunkBytes := session.Format().BytesFor(cfg.ProcessingArgs.ChunkLengthSeconds)
	live := session.LiveBufferLen()

	p.logger.Debug("Evaluating buffering trigger",
		zap.String("sessionID", session.ID()),
		zap.Int("liveBytes", live),
		zap.Float64("chunkBytes", chunkBytes))

	if float64(live) <= chunkBytes {
		return false
	}
	if session.Busy() {
		// picked up by a later append once the current run finishes
		return false
	}

	run, err := session.BeginProcessingRun()
	if err != nil {
		if errors.Is(err, entities.ErrAlreadyBusy) {
			p.logger.Warn("Processing run already in flight", zap.String("sessionID", session.ID()))
		}
		return false
	}

	p.metrics.RunsStarted.Inc()
	p.metrics.ChunkSeconds.Observe(run.Seconds())

	dispatcher.Go(func() {
		p.process(ctx, session, run, cfg, dispatcher)
	})
	return true
}

// process executes one run. The outcome is reported before the session is
// released so results leave in sequence order.
func (p *SilenceAtEndOfChunk) process(ctx context.Context, session *entities.ClientSession, run *entities.ProcessingRun, cfg entities.SessionConfig, dispatcher RunDispatcher) {
	started := time.Now()
	outcome := RunOutcome{SessionID: run.SessionID, Sequence: run.Sequence, Run: run}
	logger := p.logger.With(zap.String("sessionID", run.SessionID), zap.Uint64("sequence", run.Sequence))

	finish := func(name string, err error) {
		outcome.Outcome = name
		outcome.Err = err
		dispatcher.Report(outcome)
		session.EndProcessingRun()
	}

	p.dump(run, logger)

	segments, err := p.gateway.DetectActivity(ctx, run.Audio, run.Format)
	if err != nil {
		finish(p.failure(ctx, logger, err), err)
		return
	}
	if len(segments) == 0 {
		logger.Debug("No speech detected, discarding chunk", zap.Float64("audioSeconds", run.Seconds()))
		finish(metrics.OutcomeNoSpeech, nil)
		return
	}

	if !p.trailingSilence(run, segments, cfg, logger) && p.config.TrailingSilenceGate {
		if p.config.MaxBufferSeconds <= 0 || run.Seconds() < p.config.MaxBufferSeconds {
			outcome.Outcome = metrics.OutcomeDeferred
			dispatcher.Report(outcome)
			session.DeferProcessingRun()
			return
		}
		logger.Debug("Chunk reached max buffer length, transcribing anyway", zap.Float64("audioSeconds", run.Seconds()))
	}

	transcription, err := p.gateway.Transcribe(ctx, run.Audio, run.Format, cfg.LanguageHint())
	if err != nil {
		finish(p.failure(ctx, logger, err), err)
		return
	}
	if strings.TrimSpace(transcription.Text) == "" {
		finish(metrics.OutcomeEmpty, nil)
		return
	}

	outcome.Result = &entities.TranscriptionResult{
		Transcription:  transcription,
		ProcessingTime: time.Since(started).Seconds(),
	}
	finish(metrics.OutcomeDelivered, nil)
}

// trailingSilence reports whether the last speech segment ends before the
// chunk end minus the configured offset.
func (p *SilenceAtEndOfChunk) trailingSilence(run *entities.ProcessingRun, segments []entities.Segment, cfg entities.SessionConfig, logger *zap.Logger) bool {
	lastEnd := segments[len(segments)-1].End
	boundary := run.Seconds() - cfg.ProcessingArgs.ChunkOffsetSeconds
	met := lastEnd < boundary

	logger.Debug("Trailing silence check",
		zap.Float64("lastSegmentEnd", lastEnd),
		zap.Float64("shouldEndBefore", boundary),
		zap.Bool("conditionMet", met),
		zap.Bool("gateEnabled", p.config.TrailingSilenceGate))
	return met
}

func (p *SilenceAtEndOfChunk) failure(ctx context.Context, logger *zap.Logger, err error) string {
	if ctx.Err() != nil {
		logger.Debug("Processing run abandoned", zap.Error(err))
		return metrics.OutcomeAbandoned
	}
	logger.Error("Analysis call failed, dropping chunk", zap.Error(err))
	return metrics.OutcomeFailed
}

func (p *SilenceAtEndOfChunk) checkRealtime(session *entities.ClientSession, cfg entities.SessionConfig) {
	if !cfg.ErrorIfNotRealtime {
		return
	}
	now := time.Now()
	if session.StreamingFor(now) < p.config.RealtimeGrace {
		return
	}
	ratio := session.RealtimeRatio(now)
	if ratio >= 1.0 {
		return
	}
	if session.MarkNotRealtime() {
		p.metrics.NotRealtime.Inc()
		p.logger.Warn("Session is streaming slower than real time",
			zap.String("sessionID", session.ID()),
			zap.Float64("realtimeRatio", ratio))
	}
}

func (p *SilenceAtEndOfChunk) dump(run *entities.ProcessingRun, logger *zap.Logger) {
	if p.config.DumpDir == "" {
		return
	}
	path, err := audio.DumpWAV(p.config.DumpDir, run.ArtifactName(), run.Audio, run.Format)
	if err != nil {
		logger.Warn("Failed to write chunk audio", zap.Error(err))
		return
	}
	logger.Debug("Wrote chunk audio", zap.String("path", path))
}

// PolicyRegistry looks buffering policies up by strategy name
type PolicyRegistry struct {
	policies map[string]BufferingPolicy
}

// NewPolicyRegistry creates a registry of the given policies
func NewPolicyRegistry(policies ...BufferingPolicy) *PolicyRegistry {
	r := &PolicyRegistry{policies: make(map[string]BufferingPolicy, len(policies))}
	for _, p := range policies {
		r.policies[p.Name()] = p
	}
	return r
}

// Lookup returns the policy for a strategy name
func (r *PolicyRegistry) Lookup(name string) (BufferingPolicy, error) {
	p, ok := r.policies[name]
	if !ok {
		return nil, &entities.ConfigValidationError{Field: "processing_strategy", Message: "unknown strategy " + name}
	}
	return p, nil
}
