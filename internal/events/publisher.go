// Package events publishes wallet domain events over watermill.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Topics emitted by the wallet backend.
const (
	TopicOTPSent              = "wallet.otp.sent"
	TopicPasskeyRegistered    = "wallet.passkey.registered"
	TopicPasskeyAuthenticated = "wallet.passkey.authenticated"
	TopicPaymentCompleted     = "wallet.payment.completed"
)

// Envelope wraps every event payload.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher serialises payloads and hands them to a watermill publisher.
// A nil *Publisher drops events.
type Publisher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewPublisher wraps an existing watermill publisher.
func NewPublisher(publisher message.Publisher, logger *slog.Logger) *Publisher {
	return &Publisher{publisher: publisher, logger: logger}
}

// NewRedisStreamPublisher publishes to Redis streams, one stream per topic.
func NewRedisStreamPublisher(client *redis.Client, logger *slog.Logger) (*Publisher, error) {
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}
	return NewPublisher(pub, logger), nil
}

// NewInProcess returns a publisher backed by a gochannel pubsub along with
// the pubsub itself so callers can subscribe.
func NewInProcess(logger *slog.Logger) (*Publisher, *gochannel.GoChannel) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger))
	return NewPublisher(pubsub, logger), pubsub
}

// Publish marshals payload into an Envelope and publishes it on topic.
// Failures are logged and returned; callers treat events as best effort.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) error {
	if p == nil || p.publisher == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	env := Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", topic, err)
	}

	msg := message.NewMessage(env.ID, body)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		if p.logger != nil {
			p.logger.WarnContext(ctx, "publish event failed", slog.String("topic", topic), slog.Any("error", err))
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close releases the underlying publisher.
func (p *Publisher) Close() error {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Close()
}
