package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
)

// submitTimeout bounds the handling of a single message
const submitTimeout = 10 * time.Second

// ScoreHandler processes score submissions
type ScoreHandler interface {
	SubmitScore(ctx context.Context, playerID string, score int64) (*domain.LeaderboardView, error)
}

// ScoreMessage is the wire format of the scores topic
type ScoreMessage struct {
	PlayerID string `json:"player_id"`
	Score    int64  `json:"score"`
}

// DecodeScoreMessage parses and validates a scores topic payload
func DecodeScoreMessage(value []byte) (ScoreMessage, error) {
	var msg ScoreMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	if err := domain.ValidateSubmission(msg.PlayerID, msg.Score); err != nil {
		return msg, err
	}
	return msg, nil
}

// Consumer consumes score messages from Kafka and submits them one by one
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	handler ScoreHandler
	logger  *slog.Logger
	ready   chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim submits messages in partition order. Every message is marked
// once handled, including ones that failed; a submission is never replayed.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.process(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}

func (h *consumerGroupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) {
	msg, err := DecodeScoreMessage(message.Value)
	if err != nil {
		h.logger.Warn("skipping invalid score message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	view, err := h.handler.SubmitScore(ctx, msg.PlayerID, msg.Score)
	if err != nil {
		level := slog.LevelError
		if domain.IsNotFoundError(err) {
			level = slog.LevelWarn
		}
		h.logger.Log(ctx, level, "failed to submit score from Kafka",
			"player_id", msg.PlayerID,
			"error", err,
			"offset", message.Offset,
		)
		return
	}

	h.logger.Debug("submitted score from Kafka",
		"player_id", msg.PlayerID,
		"score", view.PlayerScore,
		"rank", view.PlayerRank,
		"degraded", view.Degraded,
	)
}
