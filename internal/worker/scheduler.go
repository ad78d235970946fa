package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
)

// Resetter performs the bulk score reset
type Resetter interface {
	ResetAllScores(ctx context.Context, trigger domain.ResetTrigger) (*domain.ResetResult, error)
}

// ResetScheduler resets all scores once a day at a configured local hour
type ResetScheduler struct {
	resetter Resetter
	hour     int
	location *time.Location
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(resetter Resetter, cfg *config.ResetConfig, logger *slog.Logger) (*ResetScheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving reset time zone: %w", err)
	}
	return &ResetScheduler{
		resetter: resetter,
		hour:     cfg.Hour,
		location: loc,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// NextReset returns the next instant at hour:00 in loc that is strictly after now
func NextReset(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// Start begins the reset loop
func (s *ResetScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("reset scheduler started",
		"hour", s.hour,
		"time_zone", s.location.String(),
	)

	go s.run(ctx)
	return nil
}

// Stop stops the reset loop and waits for it to exit
func (s *ResetScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("reset scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler loop is active
func (s *ResetScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ResetScheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		now := s.now()
		next := NextReset(now, s.hour, s.location)
		wait := next.Sub(now)
		s.logger.Debug("next scheduled reset", "at", next, "in", wait)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.after(wait):
			s.runReset(ctx)
		}
	}
}

// runReset performs one scheduled reset; a failure is logged and the loop
// carries on to the next day
func (s *ResetScheduler) runReset(ctx context.Context) {
	result, err := s.resetter.ResetAllScores(ctx, domain.ResetTriggerScheduled)
	if err != nil {
		s.logger.Error("scheduled reset failed", "error", err)
		return
	}
	s.logger.Info("scheduled reset completed",
		"players_affected", result.PlayersAffected,
		"cache_cleared", result.CacheCleared,
	)
}
