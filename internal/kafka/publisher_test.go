package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func newMockProducer(t *testing.T) *mocks.AsyncProducer {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return mocks.NewAsyncProducer(t, cfg)
}

func TestPublisher_ScoreSubmitted(t *testing.T) {
	producer := newMockProducer(t)

	view := &domain.LeaderboardView{
		PlayerID:    "p1",
		PlayerRank:  2,
		PlayerScore: 900,
		TopPlayers: []domain.LeaderboardEntry{
			{PlayerID: "p0", Score: 1000, Rank: 1},
			{PlayerID: "p1", Score: 900, Rank: 2},
		},
		NearbyPlayers: []domain.LeaderboardEntry{},
	}

	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != domain.EventScoreSubmitted {
			return errors.New("unexpected event type " + env.Type)
		}
		var got domain.LeaderboardView
		if err := json.Unmarshal(env.Data, &got); err != nil {
			return err
		}
		if got.PlayerRank != 2 || got.PlayerScore != 900 || len(got.TopPlayers) != 2 {
			return errors.New("view did not round trip")
		}
		return nil
	})

	pub := NewPublisherWithProducer(producer, "leaderboard-events", discardLogger())
	require.NoError(t, pub.ScoreSubmitted(context.Background(), view))
	require.NoError(t, pub.Close())

	assert.Equal(t, int64(1), pub.Delivered())
	assert.Equal(t, int64(0), pub.Failed())
}

func TestPublisher_LeaderboardReset(t *testing.T) {
	producer := newMockProducer(t)

	resetAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != domain.EventLeaderboardReset || !env.Timestamp.Equal(resetAt) {
			return errors.New("unexpected reset envelope")
		}
		return nil
	})

	pub := NewPublisherWithProducer(producer, "leaderboard-events", discardLogger())
	err := pub.LeaderboardReset(context.Background(), &domain.ResetResult{
		PlayersAffected: 12,
		ResetAt:         resetAt,
		Success:         true,
		Trigger:         domain.ResetTriggerScheduled,
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.Equal(t, int64(1), pub.Delivered())
}

func TestPublisher_DeliveryFailureIsLoggedNotReturned(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	pub := NewPublisherWithProducer(producer, "leaderboard-events", discardLogger())
	err := pub.ScoreSubmitted(context.Background(), &domain.LeaderboardView{PlayerID: "p1"})
	require.NoError(t, err)
	require.NoError(t, pub.Close())

	assert.Equal(t, int64(0), pub.Delivered())
	assert.Equal(t, int64(1), pub.Failed())
}

// stalledProducer never reads its input, like a producer stuck on a broker
type stalledProducer struct {
	sarama.AsyncProducer
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errs      chan *sarama.ProducerError
}

func newStalledProducer() *stalledProducer {
	return &stalledProducer{
		input:     make(chan *sarama.ProducerMessage),
		successes: make(chan *sarama.ProducerMessage),
		errs:      make(chan *sarama.ProducerError),
	}
}

func (s *stalledProducer) Input() chan<- *sarama.ProducerMessage { return s.input }
func (s *stalledProducer) Successes() <-chan *sarama.ProducerMessage { return s.successes }
func (s *stalledProducer) Errors() <-chan *sarama.ProducerError { return s.errs }

func (s *stalledProducer) AsyncClose() {
	close(s.successes)
	close(s.errs)
}

func TestPublisher_NeverBlocksTheCaller(t *testing.T) {
	pub := NewPublisherWithProducer(newStalledProducer(), "leaderboard-events", discardLogger())
	defer pub.Close()

	done := make(chan error, 1)
	go func() {
		done <- pub.ScoreSubmitted(context.Background(), &domain.LeaderboardView{PlayerID: "p1"})
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrPublishQueueFull))
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled producer")
	}
	assert.Equal(t, int64(1), pub.Failed())
}

func TestPublisher_CanceledContext(t *testing.T) {
	producer := newMockProducer(t)
	pub := NewPublisherWithProducer(producer, "leaderboard-events", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.LeaderboardReset(ctx, &domain.ResetResult{Trigger: domain.ResetTriggerManual})

	assert.True(t, errors.Is(err, context.Canceled))
	require.NoError(t, pub.Close())
}
