package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-store/internal/config"
)

const fetchBackoff = 500 * time.Millisecond

// commandHandler defines the interface for handling resize command messages.
type commandHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer represents a Kafka consumer along with its configuration
// and the handler that processes resize commands.
type Consumer struct {
	Client   *wbfkafka.Consumer
	fetch    func(ctx context.Context) (kafka.Message, error)
	commit   func(ctx context.Context, msg kafka.Message) error
	handler  commandHandler
	topic    string
	strategy retry.Strategy
}

// New creates a new Consumer reading cfg.CommandsTopic.
// - cfg: Kafka configuration struct
// - s: retry strategy
// - h: handler for processing resize commands
func New(
	cfg *config.Kafka,
	s retry.Strategy,
	h commandHandler,
) *Consumer {
	client := wbfkafka.NewConsumer(cfg.Brokers, cfg.CommandsTopic, cfg.GroupID)

	return &Consumer{
		Client: client,
		fetch: func(ctx context.Context) (kafka.Message, error) {
			return client.Fetch(ctx)
		},
		commit: func(ctx context.Context, msg kafka.Message) error {
			return client.Commit(ctx, msg)
		},
		handler:  h,
		topic:    cfg.CommandsTopic,
		strategy: s,
	}
}

// Consume continuously fetches messages from Kafka, processes them using the handler,
// and commits offsets after successful processing. It stops gracefully on context cancellation.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.topic).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		// Fetch a message from Kafka with retries.
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			zlog.Logger.Err(err).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
			case <-time.After(fetchBackoff):
			}
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("message", string(msg.Value)).
				Msg("failed to process resize command")
			continue
		}

		// Commit the message with retries.
		err = retry.Do(func() error {
			return c.commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Str("message", string(msg.Value)).
			Msg("message handled successfully")
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
