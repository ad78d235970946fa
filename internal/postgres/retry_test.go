package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrier(attempts int) retrier {
	return retrier{
		attempts:  attempts,
		baseDelay: time.Millisecond,
		maxDelay:  5 * time.Millisecond,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "no rows", err: pgx.ErrNoRows, want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "connection failure class", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "wrapped admin shutdown", err: fmt.Errorf("query: %w", &pgconn.PgError{Code: "57P01"}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, want: false},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestRetrier_RetriesTransientUpToLimit(t *testing.T) {
	calls := 0
	transient := &pgconn.PgError{Code: "40001"}

	err := testRetrier(3).do(context.Background(), "op", func(context.Context) error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, transient))
	assert.Equal(t, 3, calls)
}

func TestRetrier_SucceedsAfterTransient(t *testing.T) {
	calls := 0

	err := testRetrier(3).do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetrier_DoesNotRetryPermanent(t *testing.T) {
	calls := 0

	err := testRetrier(3).do(context.Background(), "op", func(context.Context) error {
		calls++
		return pgx.ErrNoRows
	})

	assert.True(t, errors.Is(err, pgx.ErrNoRows))
	assert.Equal(t, 1, calls)
}

func TestRetrier_SingleAttempt(t *testing.T) {
	calls := 0

	err := testRetrier(1).do(context.Background(), "op", func(context.Context) error {
		calls++
		return io.ErrUnexpectedEOF
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
