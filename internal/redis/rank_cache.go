package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/leaderboard-sync/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// bulkChunkSize caps the members sent in a single ZADD of a bulk load
const bulkChunkSize = 500

// RankCache keeps the global ranking in a Redis sorted set.
//
// Every method is fault tolerant: Redis errors are logged, counted and
// downgraded to false / 0 / empty results so callers never see them. Equal
// scores are ordered by Redis member order reversed, so with a tie the
// lexicographically greater player id ranks first.
type RankCache struct {
	client       *redis.Client
	key          string
	probeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewRankCache creates a Redis rank cache. It does not fail when Redis is
// down at startup; the service starts degraded and recovers later.
func NewRankCache(cfg *config.RedisConfig, logger *slog.Logger, m *metrics.Metrics) *RankCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// single attempt; failures degrade instead of retrying
		MaxRetries: -1,
	})
	return NewRankCacheWithClient(client, cfg.Key, cfg.ProbeTimeout, logger, m)
}

// NewRankCacheWithClient wraps an existing client
func NewRankCacheWithClient(client *redis.Client, key string, probeTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *RankCache {
	if probeTimeout <= 0 {
		probeTimeout = 250 * time.Millisecond
	}
	return &RankCache{
		client:       client,
		key:          key,
		probeTimeout: probeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// Close closes the Redis connection
func (c *RankCache) Close() error {
	return c.client.Close()
}

// fault logs and counts a downgraded Redis error
func (c *RankCache) fault(op string, err error, attrs ...any) {
	c.metrics.CacheFault(op)
	c.logger.Warn("rank cache operation failed", append([]any{"operation", op, "error", err}, attrs...)...)
}

// IsAvailable reports whether Redis answers a PING within the probe timeout
func (c *RankCache) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	err := c.client.Ping(ctx).Err()
	c.metrics.CacheAvailability(err == nil)
	if err != nil {
		c.logger.Warn("rank cache unavailable", "error", err)
		return false
	}
	return true
}

// UpdateScore raises a player's cached score, adding the player if absent.
// A lower score than the cached one is ignored, so writes that land out of
// order never move a player down; only Clear lowers scores.
func (c *RankCache) UpdateScore(ctx context.Context, playerID string, score int64) bool {
	err := c.client.ZAddArgs(ctx, c.key, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(score), Member: playerID}},
	}).Err()
	if err != nil {
		c.fault("update_score", err, "player_id", playerID)
		return false
	}
	return true
}

// GetRank returns the 1-based rank of a player, or 0 when absent or unavailable
func (c *RankCache) GetRank(ctx context.Context, playerID string) int64 {
	rank, err := c.client.ZRevRank(ctx, c.key, playerID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.fault("get_rank", err, "player_id", playerID)
		}
		return 0
	}
	return rank + 1
}

// GetTop returns the highest count entries ranked 1..count
func (c *RankCache) GetTop(ctx context.Context, count int) []domain.LeaderboardEntry {
	if count <= 0 {
		return []domain.LeaderboardEntry{}
	}
	entries, err := c.getRange(ctx, 0, int64(count-1))
	if err != nil {
		c.fault("get_top", err)
		return []domain.LeaderboardEntry{}
	}
	return entries
}

// GetNeighbors returns the entries ranked within rng places of the player,
// clipped at the top of the leaderboard. Empty when the player is absent.
func (c *RankCache) GetNeighbors(ctx context.Context, playerID string, rng int) []domain.LeaderboardEntry {
	if rng < 0 {
		rng = 0
	}
	rank, err := c.client.ZRevRank(ctx, c.key, playerID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.fault("get_neighbors", err, "player_id", playerID)
		}
		return []domain.LeaderboardEntry{}
	}

	start := rank - int64(rng)
	if start < 0 {
		start = 0
	}
	end := rank + int64(rng)

	entries, err := c.getRange(ctx, start, end)
	if err != nil {
		c.fault("get_neighbors", err, "player_id", playerID)
		return []domain.LeaderboardEntry{}
	}
	return entries
}

// getRange returns entries at 0-based descending positions [start, end]
func (c *RankCache) getRange(ctx context.Context, start, end int64) ([]domain.LeaderboardEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, c.key, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(results))
	for i, result := range results {
		member, ok := result.Member.(string)
		if !ok {
			member = fmt.Sprint(result.Member)
		}
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: member,
			Score:    int64(result.Score),
			Rank:     start + int64(i) + 1, // Convert to 1-indexed rank
		})
	}
	return entries, nil
}

// Clear removes every entry from the ranking
func (c *RankCache) Clear(ctx context.Context) bool {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.fault("clear", err)
		return false
	}
	return true
}

// BulkLoad raises a batch of scores in a single pipelined round trip, with
// the same only-if-greater rule as UpdateScore. A batch read before a newer
// submission cannot overwrite it, and loading the same batch twice leaves
// the ranking unchanged.
func (c *RankCache) BulkLoad(ctx context.Context, scores []domain.PlayerScore) bool {
	if len(scores) == 0 {
		return true
	}

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 0; i < len(scores); i += bulkChunkSize {
			end := min(i+bulkChunkSize, len(scores))
			members := make([]redis.Z, 0, end-i)
			for _, s := range scores[i:end] {
				members = append(members, redis.Z{Score: float64(s.Score), Member: s.PlayerID})
			}
			pipe.ZAddArgs(ctx, c.key, redis.ZAddArgs{GT: true, Members: members})
		}
		return nil
	})
	if err != nil {
		c.fault("bulk_load", err, "batch_size", len(scores))
		return false
	}
	return true
}

// Count returns the number of ranked players, 0 when unavailable
func (c *RankCache) Count(ctx context.Context) int64 {
	count, err := c.client.ZCard(ctx, c.key).Result()
	if err != nil {
		c.fault("count", err)
		return 0
	}
	return count
}
