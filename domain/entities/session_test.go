package entities

import (
	"errors"
	"sync"
	"testing"

	"github.com/chkda/transcription-service/internal/audio"
)

func newTestSession() *ClientSession {
	return NewClientSession("test-session", audio.DefaultFormat(), DefaultSessionConfig())
}

func TestSessionCreation(t *testing.T) {
	session := newTestSession()

	if session.ID() != "test-session" {
		t.Errorf("Expected ID test-session, got %s", session.ID())
	}
	if session.Busy() {
		t.Error("Expected new session to be idle")
	}
	if session.LiveBufferLen() != 0 || session.ProcessingBufferLen() != 0 {
		t.Error("Expected empty buffers")
	}
	if session.Config().ProcessingStrategy != StrategySilenceAtEndOfChunk {
		t.Errorf("Expected default strategy, got %s", session.Config().ProcessingStrategy)
	}
}

func TestTotalSamplesIngested(t *testing.T) {
	tests := []struct {
		name   string
		chunks []int
	}{
		{name: "no audio", chunks: nil},
		{name: "even chunks", chunks: []int{320, 640, 32000}},
		{name: "odd chunks", chunks: []int{1, 3, 5, 7}},
		{name: "single byte", chunks: []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession()
			var want float64
			for _, n := range tt.chunks {
				session.Append(make([]byte, n))
				want += float64(n) / 2
			}
			if got := session.TotalSamplesIngested(); got != want {
				t.Errorf("Expected %f samples, got %f", want, got)
			}
		})
	}
}

func TestTotalSamplesSurvivesRuns(t *testing.T) {
	session := newTestSession()
	session.Append(make([]byte, 100))
	if _, err := session.BeginProcessingRun(); err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	session.Append(make([]byte, 50))
	session.EndProcessingRun()

	if got := session.TotalSamplesIngested(); got != 75 {
		t.Errorf("Expected 75 samples, got %f", got)
	}
}

func TestBeginProcessingRunMovesBuffer(t *testing.T) {
	session := newTestSession()
	session.Append([]byte{1, 2, 3, 4})

	run, err := session.BeginProcessingRun()
	if err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	if run.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", run.Sequence)
	}
	if session.LiveBufferLen() != 0 {
		t.Errorf("Expected empty live buffer, got %d bytes", session.LiveBufferLen())
	}
	if session.ProcessingBufferLen() != 4 {
		t.Errorf("Expected 4 processing bytes, got %d", session.ProcessingBufferLen())
	}

	session.Append([]byte{9, 9})
	if string(run.Audio) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("Run audio changed after append: %v", run.Audio)
	}
	if session.LiveBufferLen() != 2 {
		t.Errorf("Expected 2 live bytes, got %d", session.LiveBufferLen())
	}
}

func TestBeginProcessingRunWhileBusy(t *testing.T) {
	session := newTestSession()
	session.Append([]byte{1, 2})

	if _, err := session.BeginProcessingRun(); err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	if _, err := session.BeginProcessingRun(); !errors.Is(err, ErrAlreadyBusy) {
		t.Errorf("Expected ErrAlreadyBusy, got %v", err)
	}
	if session.Sequence() != 1 {
		t.Errorf("Expected sequence to stay at 1, got %d", session.Sequence())
	}
}

func TestConcurrentBeginProcessingRun(t *testing.T) {
	session := newTestSession()
	session.Append(make([]byte, 64))

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	started, busy := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := session.BeginProcessingRun()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, ErrAlreadyBusy):
				busy++
			}
		}()
	}
	wg.Wait()

	if started != 1 || busy != workers-1 {
		t.Errorf("Expected 1 started and %d busy, got %d and %d", workers-1, started, busy)
	}
}

func TestEndProcessingRun(t *testing.T) {
	session := newTestSession()
	session.Append([]byte{1, 2})
	if _, err := session.BeginProcessingRun(); err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}

	session.EndProcessingRun()
	if session.Busy() {
		t.Error("Expected session to be idle after EndProcessingRun")
	}
	if session.ProcessingBufferLen() != 0 {
		t.Error("Expected processing buffer to be cleared")
	}

	// second call is harmless
	session.EndProcessingRun()

	run, err := session.BeginProcessingRun()
	if err != nil {
		t.Fatalf("Expected a new run to start, got %v", err)
	}
	if run.Sequence != 2 {
		t.Errorf("Expected sequence 2, got %d", run.Sequence)
	}
}

func TestDeferProcessingRun(t *testing.T) {
	session := newTestSession()
	session.Append([]byte{1, 2})
	if _, err := session.BeginProcessingRun(); err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	session.Append([]byte{3, 4})

	session.DeferProcessingRun()

	if session.Busy() {
		t.Error("Expected session to be idle after DeferProcessingRun")
	}
	run, err := session.BeginProcessingRun()
	if err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	if string(run.Audio) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("Expected held audio ahead of new audio, got %v", run.Audio)
	}
}

func TestReconfigureDoesNotTouchBuffers(t *testing.T) {
	session := newTestSession()
	session.Append([]byte{1, 2, 3, 4})
	run, err := session.BeginProcessingRun()
	if err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	session.Append([]byte{5, 6})

	cfg := DefaultSessionConfig()
	cfg.ProcessingArgs.ChunkLengthSeconds = 1
	session.Reconfigure(cfg)

	if session.Config().ProcessingArgs.ChunkLengthSeconds != 1 {
		t.Error("Expected new config to be stored")
	}
	if run.Config.ProcessingArgs.ChunkLengthSeconds != 3 {
		t.Error("Expected in-flight run to keep its config snapshot")
	}
	if session.LiveBufferLen() != 2 || session.ProcessingBufferLen() != 4 || !session.Busy() {
		t.Error("Expected buffers and busy flag to be untouched")
	}
}

func TestArtifactName(t *testing.T) {
	session := NewClientSession("abc", audio.DefaultFormat(), DefaultSessionConfig())
	session.Append([]byte{0, 0})
	run, err := session.BeginProcessingRun()
	if err != nil {
		t.Fatalf("BeginProcessingRun failed: %v", err)
	}
	if got := run.ArtifactName(); got != "abc_1" {
		t.Errorf("Expected abc_1, got %s", got)
	}
}

func TestMarkNotRealtimeOnce(t *testing.T) {
	session := newTestSession()
	if !session.MarkNotRealtime() {
		t.Error("Expected first mark to report true")
	}
	if session.MarkNotRealtime() {
		t.Error("Expected second mark to report false")
	}
}

func TestRealtimeRatioBeforeAudio(t *testing.T) {
	session := newTestSession()
	if ratio := session.Stats().RealtimeRatio; ratio != 0 {
		t.Errorf("Expected ratio 0 before audio, got %f", ratio)
	}
}
