package proofbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis is a bus backed by Redis pub/sub, shared by every server instance
// behind a load balancer.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL, channel string, logger *slog.Logger) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required for the redis bus")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	return NewRedisWithClient(client, channel, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = "bountyd:proofs"
	}
	return &Redis{client: client, channel: channel, logger: logger.With("component", "proofbus", "channel", channel)}
}

// Publish sends ev to the channel.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding proof event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing proof event: %w", err)
	}
	return nil
}

// Subscribe listens on the channel until ctx is done.
func (r *Redis) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("dropping malformed proof event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					r.logger.Warn("subscriber buffer full, dropping proof event", "user", ev.UserIdentifier)
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
