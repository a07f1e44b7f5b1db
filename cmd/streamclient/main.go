package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chkda/transcription-service/internal/audio"
	transport "github.com/chkda/transcription-service/internal/websocket"
)

func main() {
	file := flag.String("file", "", "WAV file to stream (16-bit PCM)")
	serverURL := flag.String("url", "ws://localhost:8080/", "websocket endpoint")
	language := flag.String("language", "", "language hint, empty for auto-detect")
	chunk := flag.Duration("chunk", time.Second, "audio sent per frame")
	chunkLength := flag.Float64("chunk-length", 0, "chunk_length_seconds sent in the config message, 0 keeps the server default")
	token := flag.String("token", os.Getenv("TRANSCRIPTION_TOKEN"), "bearer token when the server requires auth")
	wait := flag.Duration("wait", 10*time.Second, "how long to wait for results after the last frame")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *file == "" {
		logger.Fatal("-file is required")
	}
	if *chunk <= 0 {
		logger.Fatal("-chunk must be positive")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal("Failed to read audio file", zap.Error(err))
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		logger.Fatal("Failed to decode WAV", zap.Error(err))
	}
	if err := format.Validate(); err != nil {
		logger.Fatal("Unsupported WAV format", zap.Error(err))
	}
	logger.Info("Loaded audio",
		zap.String("file", *file),
		zap.Int("sampleRate", format.SampleRate),
		zap.Duration("duration", format.Duration(len(pcm))))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, *serverURL, header)
	if err != nil {
		if resp != nil {
			logger.Fatal("WebSocket connection failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		logger.Fatal("WebSocket connection failed", zap.Error(err))
	}
	defer conn.Close()
	logger.Info("Connected", zap.String("url", *serverURL))

	update := transport.ConfigUpdate{Language: *language, AutoDetectLanguage: *language == "", ChunkLengthSeconds: *chunkLength}
	msg, err := transport.EncodeConfigMessage(update)
	if err != nil {
		logger.Fatal("Failed to encode config", zap.Error(err))
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		logger.Fatal("Failed to send config", zap.Error(err))
	}

	results := make(chan struct{}, 64)
	go readResults(conn, results, logger)

	start := time.Now()
	if err := stream(ctx, conn, pcm, format, *chunk); err != nil {
		logger.Error("Streaming stopped", zap.Error(err))
	}
	logger.Info("Finished streaming", zap.Duration("elapsed", time.Since(start)))

	// Keep waiting while results arrive
	timer := time.NewTimer(*wait)
	defer timer.Stop()
	for done := false; !done; {
		select {
		case <-results:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(*wait)
		case <-timer.C:
			done = true
		case <-ctx.Done():
			done = true
		}
	}

	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// stream sends pcm in chunk-sized binary frames paced at real time
func stream(ctx context.Context, conn *websocket.Conn, pcm []byte, format audio.Format, chunk time.Duration) error {
	size := int(format.BytesFor(chunk.Seconds()))
	size -= size % (format.SampleWidth * format.Channels)
	if size <= 0 {
		return errors.New("chunk too small for the audio format")
	}

	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	for offset := 0; offset < len(pcm); offset += size {
		end := min(offset+size, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[offset:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func readResults(conn *websocket.Conn, results chan<- struct{}, logger *zap.Logger) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Reader stopped", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		result, err := transport.DecodeTranscriptionResult(payload)
		if err != nil {
			logger.Warn("Unexpected message", zap.ByteString("payload", payload), zap.Error(err))
			continue
		}
		fmt.Printf("[%s %.2fs] %s\n", result.Language, result.ProcessingTime, result.Text)

		select {
		case results <- struct{}{}:
		default:
		}
	}
}
