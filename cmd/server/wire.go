package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chkda/transcription-service/adapters/memory"
	mongoadapter "github.com/chkda/transcription-service/adapters/mongo"
	"github.com/chkda/transcription-service/adapters/sqlite"
	"github.com/chkda/transcription-service/adapters/stt"
	"github.com/chkda/transcription-service/adapters/vad"
	"github.com/chkda/transcription-service/domain/repositories"
	"github.com/chkda/transcription-service/internal/config"
	"github.com/chkda/transcription-service/usecase"
)

type closeFunc func(ctx context.Context) error

func vadOptions(cfg *config.Config) vad.Options {
	return vad.Options{
		Engine: cfg.VAD.Engine,
		Energy: vad.EnergyConfig{
			Threshold:  cfg.VAD.Threshold,
			Window:     config.Seconds(cfg.VAD.Window),
			MinSpeech:  config.Seconds(cfg.VAD.MinSpeech),
			MinSilence: config.Seconds(cfg.VAD.MinSilence),
		},
		HTTP: vad.HTTPConfig{
			Endpoint: cfg.VAD.Endpoint,
			APIKey:   cfg.VAD.APIKey,
			Timeout:  config.Seconds(cfg.VAD.Timeout),
		},
	}
}

func asrOptions(cfg *config.Config) stt.Options {
	return stt.Options{
		Engine: cfg.ASR.Engine,
		Google: stt.GoogleConfig{
			DefaultLanguage: cfg.ASR.DefaultLanguage,
			Model:           cfg.ASR.Model,
			CredentialsFile: cfg.ASR.CredentialsFile,
			Endpoint:        cfg.ASR.Endpoint,
		},
		OpenAI: stt.OpenAIConfig{
			APIKey:  cfg.ASR.OpenAIAPIKey,
			Model:   cfg.ASR.Model,
			BaseURL: cfg.ASR.Endpoint,
		},
		Gemini: stt.GeminiConfig{
			APIKey:  cfg.ASR.GeminiAPIKey,
			Model:   cfg.ASR.Model,
			BaseURL: cfg.ASR.Endpoint,
		},
		MockText: cfg.ASR.MockText,
	}
}

func bufferingOverrides(cfg *config.Config) usecase.BufferingOverrides {
	return usecase.BufferingOverrides{
		ChunkLengthSeconds: cfg.Buffering.ChunkLengthSeconds,
		ChunkOffsetSeconds: cfg.Buffering.ChunkOffsetSeconds,
		ErrorIfNotRealtime: cfg.Buffering.ErrorIfNotRealtime,
	}
}

// openArchive returns a nil archive for the none backend
func openArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.TranscriptArchive, closeFunc, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveNone:
		return nil, nil, nil

	case config.ArchiveMemory:
		return memory.NewTranscriptArchive(), nil, nil

	case config.ArchiveSQLite:
		archive, err := sqlite.NewTranscriptArchive(cfg.Archive.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using SQLite transcript archive", zap.String("path", cfg.Archive.SQLitePath))
		return archive, func(context.Context) error { return archive.Close() }, nil

	case config.ArchiveMongo:
		client, err := mongoadapter.NewClient(cfg.Archive.MongoURI, cfg.Archive.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		repo := mongoadapter.NewTranscriptRepository(client.Database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, err
		}
		return repo, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}
