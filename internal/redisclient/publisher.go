package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/caresched/slot-reservation/internal/booking"
)

// DefaultEventChannel is where reservation lifecycle events are published.
// The notification and payment collaborators subscribe to it out of
// process; in particular reservation.refund_requested drives refunds.
const DefaultEventChannel = "booking.events"

// EventPublisher implements booking.Publisher on a Redis pub/sub channel.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &EventPublisher{client: client, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, ev booking.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event to %s: %w", p.channel, err)
	}
	return nil
}
