package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/domain/repositories"
	"github.com/chkda/transcription-service/internal/audio"
	"github.com/chkda/transcription-service/internal/metrics"
)

// ErrShuttingDown is returned by OnConnect once Shutdown has started
var ErrShuttingDown = errors.New("session manager is shutting down")

// MessageTypeConfig tags a configuration update
const MessageTypeConfig = "config"

const archiveTimeout = 5 * time.Second

// Sink is the outbound side of a connection
type Sink interface {
	Send(payload []byte) error
}

// ManagerConfig holds what every new session starts with
type ManagerConfig struct {
	Format         audio.Format
	Defaults       entities.SessionConfig
	CompletionsBuf int
}

// ControlMessage is the tagged text frame sent by clients
type ControlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sessionEntry struct {
	session *entities.ClientSession
	sink    Sink
	ctx     context.Context
	cancel  context.CancelFunc
}

// SessionManager owns the session registry, routes inbound messages and
// delivers results of processing runs in order.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	policies *PolicyRegistry
	archive  repositories.TranscriptArchive
	config   ManagerConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	completions chan RunOutcome
	closed      chan struct{}
	closeOnce   sync.Once
	baseCtx     context.Context
	baseCancel  context.CancelFunc

	trackMu   sync.Mutex
	stopping  bool
	runs      sync.WaitGroup
	archiving sync.WaitGroup
}

// NewSessionManager creates a new session manager. archive may be nil.
func NewSessionManager(policies *PolicyRegistry, archive repositories.TranscriptArchive, config ManagerConfig, m *metrics.Metrics, logger *zap.Logger) *SessionManager {
	if config.CompletionsBuf <= 0 {
		config.CompletionsBuf = 256
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &SessionManager{
		sessions:    make(map[string]*sessionEntry),
		policies:    policies,
		archive:     archive,
		config:      config,
		metrics:     m,
		logger:      logger,
		completions: make(chan RunOutcome, config.CompletionsBuf),
		closed:      make(chan struct{}),
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
}

// OnConnect registers a fresh session with the default config
func (m *SessionManager) OnConnect(sink Sink) (string, error) {
	select {
	case <-m.closed:
		return "", ErrShuttingDown
	default:
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(m.baseCtx)
	entry := &sessionEntry{
		session: entities.NewClientSession(id, m.config.Format, m.config.Defaults),
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
	}

	m.mu.Lock()
	m.sessions[id] = entry
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsTotal.Inc()
	m.metrics.ActiveSessions.Inc()
	m.logger.Info("Session connected", zap.String("sessionID", id), zap.Int("totalSessions", count))
	return id, nil
}

// OnBinaryMessage appends PCM audio and lets the session's policy decide on a run
func (m *SessionManager) OnBinaryMessage(sessionID string, data []byte) error {
	entry, ok := m.entry(sessionID)
	if !ok {
		return entities.ErrSessionNotFound
	}

	entry.session.Append(data)
	m.metrics.BytesIngested.Add(float64(len(data)))

	policy, err := m.policies.Lookup(entry.session.Config().ProcessingStrategy)
	if err != nil {
		m.logger.Error("No buffering policy for session", zap.String("sessionID", sessionID), zap.Error(err))
		return err
	}
	policy.OnAudioAppended(entry.ctx, entry.session, m)
	return nil
}

// OnTextMessage handles a control message. Errors are logged and returned but
// never affect the connection.
func (m *SessionManager) OnTextMessage(sessionID string, data []byte) error {
	entry, ok := m.entry(sessionID)
	if !ok {
		return entities.ErrSessionNotFound
	}

	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.metrics.ProtocolErrors.Inc()
		m.logger.Warn("Malformed control message", zap.String("sessionID", sessionID), zap.Error(err))
		return &entities.ProtocolError{Reason: "malformed control message", Err: err}
	}

	if msg.Type != MessageTypeConfig {
		m.metrics.ProtocolErrors.Inc()
		m.logger.Warn("Unexpected message type", zap.String("sessionID", sessionID), zap.String("type", msg.Type))
		return &entities.ProtocolError{Reason: fmt.Sprintf("unexpected message type %q", msg.Type)}
	}

	return m.reconfigure(entry, msg.Data)
}

func (m *SessionManager) reconfigure(entry *sessionEntry, patch json.RawMessage) error {
	sessionID := entry.session.ID()

	next, err := entry.session.Config().ApplyPatch(patch)
	if err == nil {
		_, err = m.policies.Lookup(next.ProcessingStrategy)
	}
	if err != nil {
		m.metrics.ConfigRejections.Inc()
		m.logger.Warn("Rejected config update", zap.String("sessionID", sessionID), zap.Error(err))
		return err
	}

	entry.session.Reconfigure(next)
	m.logger.Info("Session reconfigured",
		zap.String("sessionID", sessionID),
		zap.String("language", next.LanguageHint()),
		zap.String("strategy", next.ProcessingStrategy),
		zap.Float64("chunkLengthSeconds", next.ProcessingArgs.ChunkLengthSeconds),
		zap.Float64("chunkOffsetSeconds", next.ProcessingArgs.ChunkOffsetSeconds),
		zap.Bool("errorIfNotRealtime", next.ErrorIfNotRealtime))
	return nil
}

// OnDisconnect removes the session and cancels its in-flight run
func (m *SessionManager) OnDisconnect(sessionID string) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}
	entry.cancel()
	m.metrics.ActiveSessions.Dec()

	stats := entry.session.Stats()
	m.logger.Info("Session disconnected",
		zap.String("sessionID", sessionID),
		zap.Float64("samplesIngested", stats.TotalSamplesIngested),
		zap.Uint64("runs", stats.Sequence),
		zap.Bool("busy", stats.Busy),
		zap.Float64("realtimeRatio", stats.RealtimeRatio),
		zap.String("language", stats.Config.LanguageHint()),
		zap.Float64("chunkLengthSeconds", stats.Config.ProcessingArgs.ChunkLengthSeconds),
		zap.Bool("errorIfNotRealtime", stats.Config.ErrorIfNotRealtime),
		zap.Int("totalSessions", count))
}

// Go runs a processing run in a tracked goroutine
func (m *SessionManager) Go(fn func()) {
	m.track(&m.runs, fn)
}

// track starts fn in a goroutine counted by wg. Once shutdown has begun the
// goroutine is no longer counted; its context is already cancelled.
func (m *SessionManager) track(wg *sync.WaitGroup, fn func()) {
	m.trackMu.Lock()
	if m.stopping {
		m.trackMu.Unlock()
		go fn()
		return
	}
	wg.Add(1)
	m.trackMu.Unlock()

	go func() {
		defer wg.Done()
		fn()
	}()
}

// Report enqueues a finished run; it is dropped after shutdown
func (m *SessionManager) Report(outcome RunOutcome) {
	select {
	case m.completions <- outcome:
	case <-m.closed:
	}
}

// Run consumes run outcomes and delivers results until ctx is done or the
// manager shuts down.
func (m *SessionManager) Run(ctx context.Context) {
	for {
		select {
		case outcome := <-m.completions:
			m.handleOutcome(outcome)
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		}
	}
}

func (m *SessionManager) handleOutcome(outcome RunOutcome) {
	m.metrics.RunCompleted(outcome.Outcome)
	if outcome.Result == nil {
		return
	}

	if err := m.Deliver(outcome.SessionID, *outcome.Result); err != nil {
		return
	}
	m.archiveResult(outcome)
}

// Deliver sends a result to the session's sink. A removed session is a no-op.
func (m *SessionManager) Deliver(sessionID string, result entities.TranscriptionResult) error {
	entry, ok := m.entry(sessionID)
	if !ok {
		m.logger.Debug("Dropping result for removed session", zap.String("sessionID", sessionID))
		return nil
	}

	payload, err := json.Marshal(result)
	if err == nil {
		err = entry.sink.Send(payload)
	}
	if err != nil {
		m.metrics.DeliveryFailures.Inc()
		deliveryErr := &entities.DeliveryError{SessionID: sessionID, Err: err}
		m.logger.Warn("Failed to deliver transcription", zap.Error(deliveryErr))
		return deliveryErr
	}

	m.logger.Debug("Delivered transcription",
		zap.String("sessionID", sessionID),
		zap.Int("textLength", len(result.Text)),
		zap.Float64("processingTime", result.ProcessingTime))
	return nil
}

func (m *SessionManager) archiveResult(outcome RunOutcome) {
	if m.archive == nil || outcome.Run == nil {
		return
	}
	record := entities.NewTranscriptRecord(outcome.Run, *outcome.Result)

	m.track(&m.archiving, func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		if err := m.archive.Save(ctx, record); err != nil {
			m.metrics.ArchiveFailures.Inc()
			m.logger.Warn("Failed to archive transcript",
				zap.String("sessionID", record.SessionID),
				zap.Uint64("sequence", record.Sequence),
				zap.Error(err))
		}
	})
}

// Sessions returns stats of all live sessions, oldest first
func (m *SessionManager) Sessions() []entities.SessionStats {
	m.mu.RLock()
	stats := make([]entities.SessionStats, 0, len(m.sessions))
	for _, entry := range m.sessions {
		stats = append(stats, entry.session.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ConnectedAt.Before(stats[j].ConnectedAt)
	})
	return stats
}

// SessionStats returns stats of one live session
func (m *SessionManager) SessionStats(sessionID string) (entities.SessionStats, error) {
	entry, ok := m.entry(sessionID)
	if !ok {
		return entities.SessionStats{}, entities.ErrSessionNotFound
	}
	return entry.session.Stats(), nil
}

// Count returns the number of live sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops accepting sessions, cancels every in-flight run and waits
// for runs and archive writes until ctx is done.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.trackMu.Lock()
		m.stopping = true
		m.trackMu.Unlock()
		m.baseCancel()
	})

	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		m.archiving.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Session manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}

func (m *SessionManager) entry(sessionID string) (*sessionEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[sessionID]
	return entry, ok
}
