package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/repositories"
)

// ArchiveRetentionService periodically purges old transcripts
type ArchiveRetentionService struct {
	archive   repositories.TranscriptArchive
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewArchiveRetentionService creates a new retention service
func NewArchiveRetentionService(archive repositories.TranscriptArchive, retention, interval time.Duration, logger *zap.Logger) *ArchiveRetentionService {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &ArchiveRetentionService{
		archive:   archive,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start begins the background purge loop
func (s *ArchiveRetentionService) Start() {
	go s.purgeLoop()
	s.logger.Info("Archive retention service started",
		zap.Duration("retention", s.retention),
		zap.Duration("interval", s.interval))
}

// Stop stops the purge loop and waits for it to exit
func (s *ArchiveRetentionService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Archive retention service stopped")
}

func (s *ArchiveRetentionService) purgeLoop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce purges every record older than the retention period
func (s *ArchiveRetentionService) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	removed, err := s.archive.Purge(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to purge transcripts", zap.Error(err))
		return 0
	}

	s.logger.Info("Transcript purge completed", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	return removed
}
