package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-store/internal/config"
	"github.com/aliskhannn/image-store/internal/model"
)

// Producer publishes catalog events to Kafka.
type Producer struct {
	Client *wbfkafka.Producer
	send   func(ctx context.Context, key, value []byte) error
	topic  string
}

// New creates a new Producer writing to cfg.EventsTopic.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	client := wbfkafka.NewProducer(cfg.Brokers, cfg.EventsTopic)

	return &Producer{
		Client: client,
		send: func(ctx context.Context, key, value []byte) error {
			return client.SendWithRetry(ctx, s, key, value)
		},
		topic: cfg.EventsTopic,
	}
}

// Publish serializes the event to JSON and sends it to Kafka.
// The content id is used as the message key so events of one image stay ordered.
func (p *Producer) Publish(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err = p.send(ctx, []byte(event.ContentID), data); err != nil {
		return fmt.Errorf("failed to send event to %s: %w", p.topic, err)
	}

	return nil
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	if p.Client == nil {
		return nil
	}
	return p.Client.Close()
}

// Discard is a notifier that drops every event. It is used when Kafka is disabled.
type Discard struct{}

// Publish implements the notifier contract.
func (Discard) Publish(context.Context, model.Event) error { return nil }
