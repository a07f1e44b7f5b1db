package entities

import (
	"strconv"
	"sync"
	"time"

	"github.com/chkda/transcription-service/internal/audio"
)

// ProcessingRun is the handle returned when a session starts a processing run.
// It owns the audio moved out of the live buffer.
type ProcessingRun struct {
	SessionID string
	Sequence  uint64
	Audio     []byte
	Format    audio.Format
	Config    SessionConfig
	StartedAt time.Time
}

// Seconds returns the duration of the held audio.
func (r *ProcessingRun) Seconds() float64 {
	return r.Format.Seconds(len(r.Audio))
}

// ArtifactName names files produced for this run, e.g. chunk dumps.
func (r *ProcessingRun) ArtifactName() string {
	return r.SessionID + "_" + strconv.FormatUint(r.Sequence, 10)
}

// SessionStats is a point-in-time view of a session used for diagnostics.
type SessionStats struct {
	ID                   string        `json:"id"`
	ConnectedAt          time.Time     `json:"connected_at"`
	TotalSamplesIngested float64       `json:"total_samples_ingested"`
	LiveBufferBytes      int           `json:"live_buffer_bytes"`
	ProcessingBytes      int           `json:"processing_buffer_bytes"`
	Sequence             uint64        `json:"sequence"`
	Busy                 bool          `json:"busy"`
	RealtimeRatio        float64       `json:"realtime_ratio"`
	Config               SessionConfig `json:"config"`
}

// ClientSession holds one client's mutable streaming state.
// It is owned by the session registry; the ingest path and the session's own
// processing run are the only writers.
type ClientSession struct {
	mu sync.Mutex

	id          string
	format      audio.Format
	connectedAt time.Time

	live       []byte
	processing []byte
	config     SessionConfig

	totalBytes   uint64
	firstAudioAt time.Time
	sequence     uint64
	busy         bool
	notRealtime  bool
}

// NewClientSession creates a session with the given configuration.
func NewClientSession(id string, format audio.Format, config SessionConfig) *ClientSession {
	return &ClientSession{
		id:          id,
		format:      format,
		connectedAt: time.Now(),
		config:      config,
	}
}

// ID returns the session identifier.
func (s *ClientSession) ID() string {
	return s.id
}

// Format returns the PCM format agreed at connection time.
func (s *ClientSession) Format() audio.Format {
	return s.format
}

// Append adds audio to the live buffer. It never blocks on analysis.
func (s *ClientSession) Append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) == 0 {
		return
	}
	if s.firstAudioAt.IsZero() {
		s.firstAudioAt = time.Now()
	}
	s.live = append(s.live, data...)
	s.totalBytes += uint64(len(data))
}

// Reconfigure replaces the configuration. Buffers and in-flight runs are untouched.
func (s *ClientSession) Reconfigure(config SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// Config returns the current configuration.
func (s *ClientSession) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// LiveBufferLen returns the number of bytes not yet claimed for processing.
func (s *ClientSession) LiveBufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// ProcessingBufferLen returns the number of bytes held by the in-flight run.
func (s *ClientSession) ProcessingBufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processing)
}

// Busy reports whether a processing run is in flight.
func (s *ClientSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Sequence returns the number of processing runs started so far.
func (s *ClientSession) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// TotalSamplesIngested returns total appended bytes divided by the sample width.
func (s *ClientSession) TotalSamplesIngested() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesLocked()
}

func (s *ClientSession) samplesLocked() float64 {
	if s.format.SampleWidth <= 0 {
		return 0
	}
	return float64(s.totalBytes) / float64(s.format.SampleWidth)
}

// BeginProcessingRun moves the whole live buffer into the processing buffer.
// The live buffer is replaced by a fresh, empty one so audio arriving during
// the run never touches the bytes handed to it.
func (s *ClientSession) BeginProcessingRun() (*ProcessingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrAlreadyBusy
	}

	s.processing, s.live = s.live, nil
	s.busy = true
	s.sequence++

	return &ProcessingRun{
		SessionID: s.id,
		Sequence:  s.sequence,
		Audio:     s.processing,
		Format:    s.format,
		Config:    s.config,
		StartedAt: time.Now(),
	}, nil
}

// EndProcessingRun drops the processing buffer and releases the busy flag.
// Calling it when no run is in flight is a no-op.
func (s *ClientSession) EndProcessingRun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processing = nil
	s.busy = false
}

// DeferProcessingRun hands the held audio back to the live buffer, ahead of
// anything that arrived during the run, and releases the busy flag.
func (s *ClientSession) DeferProcessingRun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.busy {
		return
	}
	merged := make([]byte, 0, len(s.processing)+len(s.live))
	merged = append(merged, s.processing...)
	merged = append(merged, s.live...)
	s.live = merged
	s.processing = nil
	s.busy = false
}

// RealtimeRatio returns seconds of audio received per second of wall time since
// the first audio byte. It is 0 before any audio arrived.
func (s *ClientSession) RealtimeRatio(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realtimeRatioLocked(now)
}

func (s *ClientSession) realtimeRatioLocked(now time.Time) float64 {
	if s.firstAudioAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.firstAudioAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return s.format.Seconds(int(s.totalBytes)) / elapsed
}

// StreamingFor returns how long audio has been arriving.
func (s *ClientSession) StreamingFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstAudioAt.IsZero() {
		return 0
	}
	return now.Sub(s.firstAudioAt)
}

// MarkNotRealtime flags the session as falling behind real time.
// It returns true only the first time.
func (s *ClientSession) MarkNotRealtime() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notRealtime {
		return false
	}
	s.notRealtime = true
	return true
}

// Stats returns a snapshot for diagnostics.
func (s *ClientSession) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionStats{
		ID:                   s.id,
		ConnectedAt:          s.connectedAt,
		TotalSamplesIngested: s.samplesLocked(),
		LiveBufferBytes:      len(s.live),
		ProcessingBytes:      len(s.processing),
		Sequence:             s.sequence,
		Busy:                 s.busy,
		RealtimeRatio:        s.realtimeRatioLocked(time.Now()),
		Config:               s.config,
	}
}
