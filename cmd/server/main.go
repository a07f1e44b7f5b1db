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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chkda/transcription-service/adapters/stt"
	"github.com/chkda/transcription-service/adapters/vad"
	"github.com/chkda/transcription-service/internal/api"
	"github.com/chkda/transcription-service/internal/auth"
	"github.com/chkda/transcription-service/internal/config"
	"github.com/chkda/transcription-service/internal/metrics"
	"github.com/chkda/transcription-service/internal/websocket"
	"github.com/chkda/transcription-service/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRANSCRIPTION_CONFIG"), "path to a YAML config file")
	issueToken := flag.String("issue-token", "", "print a client token for this client id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret)
	if *issueToken != "" {
		token, err := authenticator.GenerateClientToken(*issueToken, *tokenTTL)
		if err != nil {
			logger.Fatal("Failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Initialize adapters
	vadEngine, err := vad.New(vadOptions(cfg))
	if err != nil {
		logger.Fatal("Failed to create VAD engine", zap.Error(err))
	}
	asrEngine, err := stt.New(ctx, asrOptions(cfg), logger)
	if err != nil {
		logger.Fatal("Failed to create ASR engine", zap.Error(err))
	}
	archive, closeArchive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open transcript archive", zap.Error(err))
	}

	// Initialize usecase services
	gateway := usecase.NewAnalysisGateway(vadEngine, asrEngine, usecase.GatewayConfig{
		Timeout:       config.Seconds(cfg.Analysis.Timeout),
		MaxRetries:    cfg.Analysis.MaxRetries,
		RetryBackoff:  config.Seconds(cfg.Analysis.RetryBackoff),
		MaxConcurrent: cfg.Analysis.MaxConcurrent,
	}, m, logger)

	policy := usecase.NewSilenceAtEndOfChunk(gateway, usecase.SilenceAtEndOfChunkConfig{
		Overrides:           bufferingOverrides(cfg),
		TrailingSilenceGate: cfg.Buffering.TrailingSilenceGate,
		MaxBufferSeconds:    cfg.Buffering.MaxBufferSeconds,
		RealtimeGrace:       config.Seconds(cfg.Buffering.RealtimeGraceSeconds),
		DumpDir:             cfg.Audio.DumpDir,
	}, m, logger)

	manager := usecase.NewSessionManager(usecase.NewPolicyRegistry(policy), archive, usecase.ManagerConfig{
		Format:   cfg.Audio.Format(),
		Defaults: cfg.SessionDefaults.SessionConfig(),
	}, m, logger)

	hub := websocket.NewHub(manager, websocket.Options{
		ReadLimit:      cfg.Server.ReadLimit,
		PongWait:       config.Seconds(cfg.Server.PongWait),
		PingPeriod:     config.Seconds(cfg.Server.PingInterval),
		WriteWait:      config.Seconds(cfg.Server.WriteWait),
		SendQueueSize:  cfg.Server.SendQueueSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	var retention *usecase.ArchiveRetentionService
	if archive != nil && cfg.Archive.Retention > 0 {
		retention = usecase.NewArchiveRetentionService(archive, cfg.Archive.RetentionDuration(), cfg.Archive.PurgeIntervalDuration(), logger)
		retention.Start()
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.Server.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		WebSocket: hub.HandleWebSocket,
		Sessions:  manager,
		Archive:   archive,
		Metrics:   m,
		Auth:      authenticator,
	}, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(hubCtx)
		return nil
	})

	g.Go(func() error {
		manager.Run(context.Background())
		return nil
	})

	g.Go(func() error {
		logger.Info("Server started",
			zap.String("addr", cfg.Server.Addr),
			zap.String("vad", vadEngine.Name()),
			zap.String("asr", asrEngine.Name()),
			zap.String("archive", cfg.Archive.Backend),
			zap.Bool("auth", authenticator.Enabled()))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.Server.ShutdownTimeout))
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		stopHub()
		if retention != nil {
			retention.Stop()
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Processing runs still in flight at shutdown", zap.Error(err))
		}
		if err := stt.Close(asrEngine); err != nil {
			logger.Error("Failed to close ASR engine", zap.Error(err))
		}
		if closeArchive != nil {
			if err := closeArchive(shutdownCtx); err != nil {
				logger.Error("Failed to close transcript archive", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exited")
}
