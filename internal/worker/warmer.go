package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/leaderboard-sync/internal/metrics"
)

var (
	// ErrCacheUnavailable is returned when a rebuild is skipped because the
	// cache does not answer
	ErrCacheUnavailable = errors.New("rank cache unavailable")
	// ErrRebuildInProgress is returned to callers that race a running rebuild
	ErrRebuildInProgress = errors.New("rebuild already in progress")
)

// ScoreSource pages through durable scores, highest first
type ScoreSource interface {
	ListPlayerScores(ctx context.Context, offset, limit int) ([]domain.PlayerScore, error)
}

// CacheLoader is the part of the rank cache the warmer writes to
type CacheLoader interface {
	IsAvailable(ctx context.Context) bool
	BulkLoad(ctx context.Context, scores []domain.PlayerScore) bool
}

// Warmer rebuilds the rank cache from the durable store
type Warmer struct {
	source  ScoreSource
	cache   CacheLoader
	config  *config.WarmupConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	running atomic.Bool

	// held around each page so a reset cannot interleave between reading
	// scores and loading them
	pageLock sync.Locker
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// NewWarmer creates a new cache warmer
func NewWarmer(
	source ScoreSource,
	cache CacheLoader,
	cfg *config.WarmupConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Warmer {
	return &Warmer{
		source:   source,
		cache:    cache,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		pageLock: noLock{},
	}
}

// SetPageLock sets the lock held while each page is read and loaded
func (w *Warmer) SetPageLock(l sync.Locker) {
	if l == nil {
		l = noLock{}
	}
	w.pageLock = l
}

// Rebuild loads every player's current score into the cache, page by page,
// and returns how many entries were loaded. Loading only raises scores, so
// running it over a populated cache, or alongside live submissions, never
// moves a player down.
func (w *Warmer) Rebuild(ctx context.Context) (int, error) {
	if !w.running.CompareAndSwap(false, true) {
		return 0, ErrRebuildInProgress
	}
	defer w.running.Store(false)

	if !w.cache.IsAvailable(ctx) {
		w.logger.Warn("skipping cache rebuild, rank cache unavailable")
		return 0, ErrCacheUnavailable
	}

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	startTime := time.Now()
	loaded := 0
	for offset := 0; ; offset += batchSize {
		n, err := w.loadPage(ctx, offset, batchSize)
		loaded += n
		if err != nil {
			return loaded, err
		}
		if n < batchSize {
			break
		}
	}

	elapsed := time.Since(startTime)
	w.metrics.Warmup(loaded, elapsed)
	w.logger.Info("rank cache rebuilt",
		"loaded", loaded,
		"duration", elapsed,
	)
	return loaded, nil
}

// loadPage copies one page of durable scores into the cache
func (w *Warmer) loadPage(ctx context.Context, offset, limit int) (int, error) {
	w.pageLock.Lock()
	defer w.pageLock.Unlock()

	page, err := w.source.ListPlayerScores(ctx, offset, limit)
	if err != nil {
		return 0, fmt.Errorf("reading scores at offset %d: %w", offset, err)
	}
	if len(page) == 0 {
		return 0, nil
	}
	if !w.cache.BulkLoad(ctx, page) {
		return 0, fmt.Errorf("loading scores at offset %d: %w", offset, ErrCacheUnavailable)
	}
	return len(page), nil
}

// TriggerAsync runs Rebuild in the background
func (w *Warmer) TriggerAsync(ctx context.Context) {
	go func() {
		if _, err := w.Rebuild(ctx); err != nil {
			if errors.Is(err, ErrRebuildInProgress) {
				w.logger.Debug("rebuild already running")
				return
			}
			w.logger.Error("cache rebuild failed", "error", err)
		}
	}()
}

// IsRunning reports whether a rebuild is in flight
func (w *Warmer) IsRunning() bool {
	return w.running.Load()
}
