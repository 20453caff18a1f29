package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type envelope struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// RedisBus broadcasts events on a single pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus creates a publisher from a redis URL.
func NewRedisBus(redisURL, channel string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBus{client: client, channel: channel}, nil
}

// NewRedisBusWithClient creates a publisher from an existing Redis client.
func NewRedisBusWithClient(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

// Publish broadcasts one event. A channel with no subscribers is not an
// error; this layer makes no delivery guarantee.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(envelope{Kind: event.Kind(), Payload: event})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Kind(), err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Kind(), err)
	}
	return nil
}

// Close closes the Redis connection
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Ping checks if Redis is reachable
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
