package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
	"github.com/chkda/transcription-service/internal/metrics"
)

type fakeVAD struct {
	mu       sync.Mutex
	calls    int
	segments []entities.Segment
	err      error
	release  chan struct{}
}

func (f *fakeVAD) Name() string { return "fake-vad" }

func (f *fakeVAD) DetectActivity(ctx context.Context, pcm []byte, format audio.Format) ([]entities.Segment, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	segments, err := f.segments, f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return segments, err
}

func (f *fakeVAD) set(segments []entities.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = segments
}

func (f *fakeVAD) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeASR struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	failErr   error
	result    entities.Transcription
	texts     []string
	languages []string
	sizes     []int
}

func (f *fakeASR) Name() string { return "fake-asr" }

func (f *fakeASR) Transcribe(ctx context.Context, pcm []byte, format audio.Format, language string) (entities.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.languages = append(f.languages, language)
	f.sizes = append(f.sizes, len(pcm))
	if f.calls <= f.failFirst {
		return entities.Transcription{}, f.failErr
	}
	result := f.result
	if len(f.texts) > 0 {
		result.Text = f.texts[0]
		f.texts = f.texts[1:]
	}
	return result, nil
}

func (f *fakeASR) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (s *fakeSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSink) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

type fakeArchive struct {
	mu      sync.Mutex
	records []*entities.TranscriptRecord
	purged  time.Time
}

func (a *fakeArchive) Save(ctx context.Context, record *entities.TranscriptRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func (a *fakeArchive) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.TranscriptRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*entities.TranscriptRecord
	for _, r := range a.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *fakeArchive) Purge(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purged = before
	kept := a.records[:0]
	var removed int64
	for _, r := range a.records {
		if r.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	a.records = kept
	return removed, nil
}

func (a *fakeArchive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

type testRig struct {
	manager *SessionManager
	vad     *fakeVAD
	asr     *fakeASR
	archive *fakeArchive
	metrics *metrics.Metrics
}

func newTestRig(t *testing.T, vad *fakeVAD, asr *fakeASR, policyConfig SilenceAtEndOfChunkConfig) *testRig {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.New()
	gateway := NewAnalysisGateway(vad, asr, GatewayConfig{Timeout: 2 * time.Second, RetryBackoff: time.Millisecond}, m, logger)
	policy := NewSilenceAtEndOfChunk(gateway, policyConfig, m, logger)
	archive := &fakeArchive{}
	manager := NewSessionManager(NewPolicyRegistry(policy), archive, ManagerConfig{
		Format:   audio.DefaultFormat(),
		Defaults: entities.DefaultSessionConfig(),
	}, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		cancel()
	})

	return &testRig{manager: manager, vad: vad, asr: asr, archive: archive, metrics: m}
}

func (r *testRig) session(t *testing.T, id string) *entities.ClientSession {
	t.Helper()
	entry, ok := r.manager.entry(id)
	if !ok {
		t.Fatalf("Session %s not registered", id)
	}
	return entry.session
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// seconds returns n seconds of default-format silence plus extra bytes
func seconds(n float64, extra int) []byte {
	return make([]byte, int(audio.DefaultFormat().BytesFor(n))+extra)
}
