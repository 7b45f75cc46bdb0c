package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
)

// Bus types accepted by New.
const (
	TypeChannel = "channel"
	TypeNATS    = "nats"
)

// New creates the event bus named by cfg.Type: the in-process channel bus
// (Community edition) or a NATS connection (Pro edition).
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeChannel:
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case TypeNATS:
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unsupported event bus type: %q", cfg.Type)
}

// PublishJSON encodes v and publishes it to topic. The encoded payload is
// returned, even when publishing fails, so callers can reuse it in a reply.
// A nil payload means v could not be encoded.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return payload, fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return payload, nil
}

// PublishEvaluation announces a finished assessment on TopicAssessmentCompleted
// and, for High Risk evaluations, again on TopicHighRisk.
func PublishEvaluation(ctx context.Context, b domain.EventBus, eval *domain.Evaluation) ([]byte, error) {
	payload, err := PublishJSON(ctx, b, eval.TenantID, domain.TopicAssessmentCompleted, eval)
	if payload == nil {
		return nil, err
	}
	if decision.IsHighRisk(eval) {
		if herr := b.Publish(ctx, eval.TenantID, domain.TopicHighRisk, payload); herr != nil {
			return payload, fmt.Errorf("failed to publish to %s: %w", domain.TopicHighRisk, herr)
		}
	}
	return payload, err
}
