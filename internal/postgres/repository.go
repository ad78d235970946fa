package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
)

// Repository is the durable player store backed by PostgreSQL
type Repository struct {
	pool   *pgxpool.Pool
	retry  retrier
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	r := &Repository{
		pool: pool,
		retry: retrier{
			attempts:  cfg.RetryAttempts,
			baseDelay: cfg.RetryBaseDelay,
			maxDelay:  cfg.RetryMaxDelay,
			logger:    logger,
		},
		logger: logger,
	}

	// Test connection
	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return r, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.retry.do(ctx, "ping", func(ctx context.Context) error {
		return r.pool.Ping(ctx)
	})
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			current_score BIGINT NOT NULL DEFAULT 0 CHECK (current_score >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS score_submissions (
			id UUID PRIMARY KEY,
			player_id UUID NOT NULL REFERENCES players(id),
			score BIGINT NOT NULL CHECK (score >= 0),
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS score_resets (
			id UUID PRIMARY KEY,
			players_affected BIGINT NOT NULL,
			trigger VARCHAR(20) NOT NULL,
			reset_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_current_score ON players(current_score DESC, id)`,
		`CREATE INDEX IF NOT EXISTS idx_score_submissions_player ON score_submissions(player_id, submitted_at DESC)`,
	}

	for _, migration := range migrations {
		err := r.retry.do(ctx, "migrate", func(ctx context.Context) error {
			_, err := r.pool.Exec(ctx, migration)
			return err
		})
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreatePlayer inserts a new player
func (r *Repository) CreatePlayer(ctx context.Context, player *domain.Player) error {
	query := `
		INSERT INTO players (id, name, current_score, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	err := r.retry.do(ctx, "create_player", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, query,
			player.ID,
			player.Name,
			player.CurrentScore,
			player.CreatedAt,
			player.LastUpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	if _, err := uuid.Parse(playerID); err != nil {
		// not a key we could ever have issued
		return nil, domain.ErrPlayerNotFound
	}

	query := `
		SELECT id, name, current_score, created_at, last_updated_at
		FROM players
		WHERE id = $1
	`
	var player domain.Player
	err := r.retry.do(ctx, "get_player", func(ctx context.Context) error {
		return scanPlayer(r.pool.QueryRow(ctx, query, playerID), &player)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &player, nil
}

// RecordSubmission appends a submission to the player's history and raises
// current_score when the submitted score beats it, in one transaction. The
// player row is locked so concurrent submissions for the same player
// serialize.
func (r *Repository) RecordSubmission(ctx context.Context, submission domain.ScoreSubmission) (*domain.Player, error) {
	if _, err := uuid.Parse(submission.PlayerID); err != nil {
		return nil, domain.ErrPlayerNotFound
	}

	var player domain.Player
	err := r.retry.do(ctx, "record_submission", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			err := scanPlayer(tx.QueryRow(ctx, `
				SELECT id, name, current_score, created_at, last_updated_at
				FROM players
				WHERE id = $1
				FOR UPDATE
			`, submission.PlayerID), &player)
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO score_submissions (id, player_id, score, submitted_at)
				VALUES ($1, $2, $3, $4)
			`, submission.ID, submission.PlayerID, submission.Score, submission.SubmittedAt)
			if err != nil {
				return fmt.Errorf("inserting submission: %w", err)
			}

			if submission.Score <= player.CurrentScore {
				return nil
			}

			_, err = tx.Exec(ctx, `
				UPDATE players
				SET current_score = $2, last_updated_at = $3
				WHERE id = $1
			`, submission.PlayerID, submission.Score, submission.SubmittedAt)
			if err != nil {
				return fmt.Errorf("raising current score: %w", err)
			}
			player.CurrentScore = submission.Score
			player.LastUpdatedAt = submission.SubmittedAt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("recording submission: %w", err)
	}
	return &player, nil
}

// ListSubmissions returns a player's submissions, newest first
func (r *Repository) ListSubmissions(ctx context.Context, playerID string, limit int) ([]domain.ScoreSubmission, error) {
	query := `
		SELECT id, player_id, score, submitted_at
		FROM score_submissions
		WHERE player_id = $1
		ORDER BY submitted_at DESC, id
		LIMIT $2
	`
	var submissions []domain.ScoreSubmission
	err := r.retry.do(ctx, "list_submissions", func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, playerID, limit)
		if err != nil {
			return err
		}
		submissions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ScoreSubmission, error) {
			var s domain.ScoreSubmission
			err := row.Scan(&s.ID, &s.PlayerID, &s.Score, &s.SubmittedAt)
			return s, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	return submissions, nil
}

// ResetAllScores zeroes every positive score in one statement and records an
// audit row in the same transaction. Submission history is kept.
func (r *Repository) ResetAllScores(ctx context.Context, at time.Time, trigger domain.ResetTrigger) (int64, error) {
	var affected int64
	err := r.retry.do(ctx, "reset_all_scores", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE players
				SET current_score = 0, last_updated_at = $1
				WHERE current_score > 0
			`, at)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()

			_, err = tx.Exec(ctx, `
				INSERT INTO score_resets (id, players_affected, trigger, reset_at)
				VALUES ($1, $2, $3, $4)
			`, uuid.NewString(), affected, string(trigger), at)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("resetting scores: %w", err)
	}
	return affected, nil
}

// ListPlayerScores pages through players by score, highest first. The id
// tiebreaker keeps pages stable.
func (r *Repository) ListPlayerScores(ctx context.Context, offset, limit int) ([]domain.PlayerScore, error) {
	query := `
		SELECT id, current_score
		FROM players
		ORDER BY current_score DESC, id
		LIMIT $1 OFFSET $2
	`
	var scores []domain.PlayerScore
	err := r.retry.do(ctx, "list_player_scores", func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		scores, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PlayerScore, error) {
			var s domain.PlayerScore
			err := row.Scan(&s.PlayerID, &s.Score)
			return s, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing player scores: %w", err)
	}
	return scores, nil
}

// CountPlayers returns the number of registered players
func (r *Repository) CountPlayers(ctx context.Context) (int64, error) {
	var count int64
	err := r.retry.do(ctx, "count_players", func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("getting player count: %w", err)
	}
	return count, nil
}

func scanPlayer(row pgx.Row, player *domain.Player) error {
	return row.Scan(
		&player.ID,
		&player.Name,
		&player.CurrentScore,
		&player.CreatedAt,
		&player.LastUpdatedAt,
	)
}
