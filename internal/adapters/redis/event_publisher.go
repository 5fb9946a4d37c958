// Package redis provides Redis-based adapters for the job engine.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/ports"
)

// DefaultEventChannel is the broadcast channel for terminal job events.
const DefaultEventChannel = "jobs:events"

// EventPublisher publishes terminal job events over Redis pub/sub.
// Each event goes to the broadcast channel and to a per-user channel.
type EventPublisher struct {
	client  redis.UniversalClient
	channel string
}

var _ ports.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher on DefaultEventChannel.
func NewEventPublisher(client redis.UniversalClient) *EventPublisher {
	return NewEventPublisherWithChannel(client, DefaultEventChannel)
}

// NewEventPublisherWithChannel creates a publisher with a custom broadcast channel.
func NewEventPublisherWithChannel(client redis.UniversalClient, channel string) *EventPublisher {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultEventChannel
	}
	return &EventPublisher{client: client, channel: channel}
}

// UserChannel returns the per-user channel name for userID.
func (p *EventPublisher) UserChannel(userID string) string {
	return p.channel + ":" + userID
}

// PublishJobEvent marshals the event and publishes it in a single pipeline.
func (p *EventPublisher) PublishJobEvent(ctx context.Context, event model.JobEvent) error {
	if p == nil || p.client == nil {
		return ErrNotConfigured
	}
	if event.EventID == "" {
		return errors.New("event ID cannot be empty")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	if event.UserID != "" {
		pipe.Publish(ctx, p.UserChannel(event.UserID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// ErrNotConfigured is returned when the publisher has no client.
var ErrNotConfigured = errors.New("redis event publisher not configured")
