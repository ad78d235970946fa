package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/leaderboard-sync/internal/metrics"
)

// defaultHistoryLimit caps GetHistory when the caller gives no limit
const defaultHistoryLimit = 100

// PlayerStore is the durable system of record
type PlayerStore interface {
	CreatePlayer(ctx context.Context, player *domain.Player) error
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	RecordSubmission(ctx context.Context, submission domain.ScoreSubmission) (*domain.Player, error)
	ListSubmissions(ctx context.Context, playerID string, limit int) ([]domain.ScoreSubmission, error)
	ResetAllScores(ctx context.Context, at time.Time, trigger domain.ResetTrigger) (int64, error)
	CountPlayers(ctx context.Context) (int64, error)
}

// RankCache is the derived ranking view. Implementations never return
// errors; faults come back as false / 0 / empty results.
type RankCache interface {
	IsAvailable(ctx context.Context) bool
	UpdateScore(ctx context.Context, playerID string, score int64) bool
	GetRank(ctx context.Context, playerID string) int64
	GetTop(ctx context.Context, count int) []domain.LeaderboardEntry
	GetNeighbors(ctx context.Context, playerID string, rng int) []domain.LeaderboardEntry
	Clear(ctx context.Context) bool
	Count(ctx context.Context) int64
}

// Notifier receives best-effort change notifications
type Notifier interface {
	ScoreSubmitted(ctx context.Context, view *domain.LeaderboardView) error
	LeaderboardReset(ctx context.Context, result *domain.ResetResult) error
}

const (
	cacheStateUnknown int32 = iota
	cacheStateUp
	cacheStateDown
)

// LeaderboardService coordinates the durable store and the rank cache.
// Durable writes always happen before cache writes, and cache faults only
// ever degrade responses.
//
// Cache writes only raise scores, so a cached score only goes down through
// the clear that follows a reset. Every "read durable score, write it to the
// cache" sequence holds the read side of resetMu, and a reset holds the write
// side across the durable reset and the clear.
type LeaderboardService struct {
	store   PlayerStore
	cache   RankCache
	config  *config.LeaderboardConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	notifiers []Notifier
	onRecover func()

	resetMu      sync.RWMutex
	clearPending atomic.Bool
	cacheState   atomic.Int32
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	store PlayerStore,
	cache RankCache,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *LeaderboardService {
	return &LeaderboardService{
		store:   store,
		cache:   cache,
		config:  cfg,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddNotifier registers a best-effort listener for submits and resets
func (s *LeaderboardService) AddNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// SetRecoveryHandler registers fn to run, in its own goroutine, when the
// cache is seen coming back after having been unavailable
func (s *LeaderboardService) SetRecoveryHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecover = fn
}

// CacheWriteLock returns the lock a cache rebuild holds while it copies
// durable scores into the cache
func (s *LeaderboardService) CacheWriteLock() sync.Locker {
	return s.resetMu.RLocker()
}

// ProbeCache checks cache liveness and tracks down→up transitions. While a
// reset's clear is still outstanding the cache holds pre-reset scores, so it
// reports unavailable until the clear goes through. Callers must not hold
// resetMu.
func (s *LeaderboardService) ProbeCache(ctx context.Context) bool {
	available := s.cache.IsAvailable(ctx)
	if available && s.clearPending.Load() {
		available = s.finishPendingClear(ctx)
	}
	if !available {
		s.cacheState.Store(cacheStateDown)
		return false
	}

	if s.cacheState.CompareAndSwap(cacheStateDown, cacheStateUp) {
		s.metrics.CacheRecovered()
		s.logger.Info("rank cache recovered")
		s.mu.RLock()
		fn := s.onRecover
		s.mu.RUnlock()
		if fn != nil {
			go fn()
		}
		return true
	}
	s.cacheState.Store(cacheStateUp)
	return true
}

// finishPendingClear retries the clear of a reset that could not clear the
// cache at the time
func (s *LeaderboardService) finishPendingClear(ctx context.Context) bool {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	if !s.clearPending.Load() {
		return true
	}
	if !s.cache.Clear(ctx) {
		return false
	}
	s.clearPending.Store(false)
	s.logger.Info("cleared rank cache left over from an earlier reset")
	return true
}

// markCacheStale records that a cache write was lost, so the next successful
// probe is treated as a recovery and triggers a rebuild
func (s *LeaderboardService) markCacheStale() {
	s.cacheState.Store(cacheStateDown)
}

// AddPlayer creates a player with a zero score. Inserting the player into
// the cache is best effort and never fails the call.
func (s *LeaderboardService) AddPlayer(ctx context.Context, name string) (*domain.Player, error) {
	name, err := domain.ValidatePlayerName(name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	player := &domain.Player{
		ID:            uuid.NewString(),
		Name:          name,
		CurrentScore:  0,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	if !s.ProbeCache(ctx) {
		s.logger.Warn("rank cache unavailable, player not ranked yet", "player_id", player.ID)
	} else if !s.cache.UpdateScore(ctx, player.ID, player.CurrentScore) {
		s.markCacheStale()
		s.logger.Warn("failed to add player to rank cache", "player_id", player.ID)
	}

	return player, nil
}

// SubmitScore records a score and returns the player's leaderboard view.
// The submission is durable before the cache is touched, and the cache is
// written before the view is read back.
func (s *LeaderboardService) SubmitScore(ctx context.Context, playerID string, score int64) (*domain.LeaderboardView, error) {
	if err := domain.ValidateSubmission(playerID, score); err != nil {
		return nil, err
	}

	available := s.ProbeCache(ctx)

	s.resetMu.RLock()
	player, err := s.store.RecordSubmission(ctx, domain.ScoreSubmission{
		ID:          uuid.NewString(),
		PlayerID:    playerID,
		Score:       score,
		SubmittedAt: s.now(),
	})
	if err != nil {
		s.resetMu.RUnlock()
		return nil, fmt.Errorf("recording submission: %w", err)
	}
	if available && !s.cache.UpdateScore(ctx, player.ID, player.CurrentScore) {
		s.markCacheStale()
		available = false
	}
	s.resetMu.RUnlock()
	s.metrics.ScoreSubmitted()

	view := s.assembleView(ctx, player, available, "submit")
	s.notify("score_submitted", func(n Notifier) error {
		return n.ScoreSubmitted(ctx, view)
	})
	return view, nil
}

// GetLeaderboard returns the leaderboard view for an existing player.
// Existence is always checked against the durable store.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, playerID string) (*domain.LeaderboardView, error) {
	if err := domain.ValidatePlayerID(playerID); err != nil {
		return nil, err
	}

	available := s.ProbeCache(ctx)
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}

	return s.assembleView(ctx, player, available, "get"), nil
}

// assembleView builds the ranked view, or the degraded one when the cache
// cannot rank the player
func (s *LeaderboardService) assembleView(ctx context.Context, player *domain.Player, available bool, op string) *domain.LeaderboardView {
	if !available {
		s.metrics.DegradedResponse(op)
		return domain.DegradedView(player)
	}

	rank := s.cache.GetRank(ctx, player.ID)
	if rank == 0 {
		player, rank = s.repairEntry(ctx, player)
		if rank == 0 {
			s.metrics.DegradedResponse(op)
			return domain.DegradedView(player)
		}
	}

	return &domain.LeaderboardView{
		PlayerID:      player.ID,
		PlayerRank:    rank,
		PlayerScore:   player.CurrentScore,
		TopPlayers:    s.cache.GetTop(ctx, s.config.TopLimit),
		NearbyPlayers: s.cache.GetNeighbors(ctx, player.ID, s.config.NearbyRange),
		Degraded:      false,
	}
}

// repairEntry puts a player missing from the cache back, after a clear or a
// cache restart. The score is re-read under the reset lock so a reset that
// landed since player was read is not undone.
func (s *LeaderboardService) repairEntry(ctx context.Context, player *domain.Player) (*domain.Player, int64) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	current, err := s.store.GetPlayer(ctx, player.ID)
	if err != nil {
		s.logger.Warn("failed to re-read player for cache repair", "player_id", player.ID, "error", err)
		return player, 0
	}
	if !s.cache.UpdateScore(ctx, current.ID, current.CurrentScore) {
		return current, 0
	}
	return current, s.cache.GetRank(ctx, current.ID)
}

// ResetAllScores zeroes every score in the durable store, then clears the
// cache. A failed cache clear is logged and still reported as success. The
// cache is then treated as unavailable until a later availability check
// gets the clear through, after which the recovery rebuild refills it.
func (s *LeaderboardService) ResetAllScores(ctx context.Context, trigger domain.ResetTrigger) (*domain.ResetResult, error) {
	s.resetMu.Lock()
	at := s.now()
	affected, err := s.store.ResetAllScores(ctx, at, trigger)
	s.metrics.Reset(string(trigger), err, affected)
	if err != nil {
		s.resetMu.Unlock()
		return nil, fmt.Errorf("resetting scores: %w", err)
	}

	cleared := false
	if s.cache.IsAvailable(ctx) {
		cleared = s.cache.Clear(ctx)
	}
	s.clearPending.Store(!cleared)
	if !cleared {
		s.markCacheStale()
	}
	s.resetMu.Unlock()

	if !cleared {
		s.logger.Warn("scores reset but rank cache was not cleared",
			"players_affected", affected,
			"trigger", trigger,
		)
	}

	result := &domain.ResetResult{
		PlayersAffected: affected,
		ResetAt:         at,
		Success:         true,
		CacheCleared:    cleared,
		Trigger:         trigger,
	}
	s.logger.Info("leaderboard reset",
		"players_affected", affected,
		"trigger", trigger,
		"cache_cleared", cleared,
	)

	s.notify("leaderboard_reset", func(n Notifier) error {
		return n.LeaderboardReset(ctx, result)
	})
	return result, nil
}

// GetPlayer returns a player from the durable store
func (s *LeaderboardService) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	if err := domain.ValidatePlayerID(playerID); err != nil {
		return nil, err
	}
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

// GetHistory returns a player's score submissions, newest first
func (s *LeaderboardService) GetHistory(ctx context.Context, playerID string, limit int) ([]domain.ScoreSubmission, error) {
	if _, err := s.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	history, err := s.store.ListSubmissions(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if history == nil {
		history = []domain.ScoreSubmission{}
	}
	return history, nil
}

// GetStats reports player counts from both stores
func (s *LeaderboardService) GetStats(ctx context.Context) (*domain.LeaderboardStats, error) {
	total, err := s.store.CountPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting players: %w", err)
	}

	stats := &domain.LeaderboardStats{TotalPlayers: total}
	if s.ProbeCache(ctx) {
		stats.CacheAvailable = true
		stats.CachedPlayers = s.cache.Count(ctx)
	}
	return stats, nil
}

// notify calls every notifier; failures are logged and never propagate
func (s *LeaderboardService) notify(event string, send func(Notifier) error) {
	s.mu.RLock()
	notifiers := s.notifiers
	s.mu.RUnlock()

	for _, n := range notifiers {
		if err := send(n); err != nil {
			s.logger.Warn("failed to send notification", "event", event, "error", err)
		}
	}
}
