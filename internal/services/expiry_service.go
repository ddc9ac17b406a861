package services

import (
	"context"
	"fmt"
	"time"

	"qrguard/internal/config"
	"qrguard/pkg/logger"

	"github.com/robfig/cron/v3"
)

// ExpiryService is the watchdog that enforces the rolling TTL server-side,
// independent of whether any client is connected. The lifecycle manager's
// lazy guard covers the window between sweeps.
type ExpiryService struct {
	chats    ChatService
	logger   *logger.Logger
	interval time.Duration
	cron     *cron.Cron
}

func NewExpiryService(cfg *config.ChatConfig, chats ChatService, log *logger.Logger) *ExpiryService {
	interval := 30 * time.Second
	if cfg != nil && cfg.SweepInterval > 0 {
		interval = cfg.SweepInterval
	}

	return &ExpiryService{
		chats:    chats,
		logger:   log,
		interval: interval,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep. A slow sweep is skipped rather than stacked.
func (s *ExpiryService) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, s.sweep)
	if err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("interval", s.interval.String()).Info("Expiry watchdog started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *ExpiryService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Expiry watchdog stopped")
}

func (s *ExpiryService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	expired, err := s.chats.ExpireOverdueChats(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Expiry sweep failed")
		return
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired overdue chats")
	}
}
