// Package events publishes device lifecycle events (registration failures
// and notification responses) to Pub/Sub for downstream consumers. The
// gateway never interprets these events; routing them is the business of
// whatever subscribes to the topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Publisher is the narrow contract the API handlers depend on.
type Publisher interface {
	Publish(ctx context.Context, event push.DeviceEvent) error
}

// PubsubPublisher publishes DeviceEvents as JSON messages, with the event
// type mirrored into a message attribute so subscribers can filter without
// decoding the payload.
type PubsubPublisher struct {
	publisher *pubsub.Publisher
	logger    *slog.Logger
}

func NewPubsubPublisher(client *pubsub.Client, topicID string, logger *slog.Logger) *PubsubPublisher {
	return &PubsubPublisher{
		publisher: client.Publisher(topicID),
		logger:    logger.With("component", "DeviceEventPublisher"),
	}
}

func (p *PubsubPublisher) Publish(ctx context.Context, event push.DeviceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device event %s: %w", event.ID, err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": string(event.Type),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish device event %s: %w", event.ID, err)
	}

	p.logger.Debug("Device event published", "event_id", event.ID, "type", event.Type)
	return nil
}

// Stop flushes outstanding publishes. Call during shutdown.
func (p *PubsubPublisher) Stop() {
	p.publisher.Stop()
}
