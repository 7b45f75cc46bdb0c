package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID; subscribers may pass WildcardTenant.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Respond answers a message received through Request.
	// It is a no-op for messages that carry no reply address.
	Respond(ctx context.Context, msg *Message, payload []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// WildcardTenant subscribes to a topic across every tenant.
const WildcardTenant = "*"

// MetadataReplyTo carries the reply address of a request.
const MetadataReplyTo = "reply_to"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
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
	Type string `mapstructure:"type"`

	// Channel settings (Community edition)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro edition)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topics of the assessment pipeline.
const (
	TopicAssessmentRequested = "msmerisk.assessment.requested"
	TopicAssessmentCompleted = "msmerisk.assessment.completed"
	TopicAssessmentRejected  = "msmerisk.assessment.rejected"
	TopicHighRisk            = "msmerisk.assessment.high_risk"
)

// AssessmentRequest is the payload of TopicAssessmentRequested.
type AssessmentRequest struct {
	RequestID string         `json:"request_id"`
	Profile   string         `json:"profile,omitempty"`
	Record    map[string]any `json:"record"`
}

// AssessmentRejection is the payload of TopicAssessmentRejected.
type AssessmentRejection struct {
	RequestID string             `json:"request_id"`
	Error     string             `json:"error"`
	Errors    []*ValidationError `json:"errors,omitempty"`
}
