package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (community tier) or NATS (pro tier).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (community tier)
	ChannelBufferSize int

	// NATS settings (pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the scoring pipeline.
const (
	// TopicTransactionIngested carries transactions submitted for
	// asynchronous scoring.
	TopicTransactionIngested = "kestrel.transaction.ingested"

	// TopicResult carries every finished FraudDetectionResult for
	// external consumers (dashboards, downstream analytics).
	TopicResult = "kestrel.result"

	// TopicAlert carries results whose recommendation is BLOCK or
	// REVIEW, for external case-management consumers.
	TopicAlert = "kestrel.alert"
)
