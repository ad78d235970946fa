package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/domain"
)

// resetKey partitions all reset events together
const resetKey = "leaderboard"

// ErrPublishQueueFull is returned when the producer's input buffer is full.
// The event is dropped rather than holding up the caller.
var ErrPublishQueueFull = errors.New("publish queue full")

// Publisher writes leaderboard events to the events topic. Publishing only
// enqueues the message; delivery results arrive on the producer's channels
// and are drained in the background.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	now      func() time.Time

	wg        sync.WaitGroup
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a publisher backed by an asynchronous producer
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.EventsTopic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer and starts draining
// its result channels
func NewPublisherWithProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for msg := range producer.Successes() {
			p.delivered.Add(1)
			p.logger.Debug("published event",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}
	}()
	go func() {
		defer p.wg.Done()
		for perr := range producer.Errors() {
			p.failed.Add(1)
			p.logger.Error("failed to publish event", "topic", perr.Msg.Topic, "error", perr.Err)
		}
	}()
	return p
}

// ScoreSubmitted publishes the view produced by a submission, keyed by player
func (p *Publisher) ScoreSubmitted(ctx context.Context, view *domain.LeaderboardView) error {
	return p.publish(ctx, view.PlayerID, domain.NewScoreSubmittedEvent(view, p.now()))
}

// LeaderboardReset publishes the outcome of a reset
func (p *Publisher) LeaderboardReset(ctx context.Context, result *domain.ResetResult) error {
	return p.publish(ctx, resetKey, domain.NewLeaderboardResetEvent(result))
}

// publish enqueues an event without waiting for the broker
func (p *Publisher) publish(ctx context.Context, key string, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing %s event: %w", event.Type, err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publishing %s event: %w", event.Type, ctx.Err())
	default:
		p.failed.Add(1)
		return fmt.Errorf("publishing %s event: %w", event.Type, ErrPublishQueueFull)
	}
}

// Delivered returns how many events the broker acknowledged
func (p *Publisher) Delivered() int64 {
	return p.delivered.Load()
}

// Failed returns how many events were dropped or rejected
func (p *Publisher) Failed() int64 {
	return p.failed.Load()
}

// Close flushes buffered events and waits until every result has been
// drained. Delivery failures are logged by the drain goroutine, not returned.
func (p *Publisher) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
