// Package proofbus fans received identity proofs out to stream subscribers,
// either in-process or across instances through Redis pub/sub.
package proofbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/celution/bountyd/internal/config"
)

// Event is a proof as delivered to stream clients.
type Event struct {
	Nullifier      string    `json:"nullifier"`
	UserIdentifier string    `json:"userIdentifier"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Bus publishes proof events and hands them to subscribers. Subscription
// channels close when the subscriber's context is done or the bus closes.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

const subscriberBuffer = 16

// New creates a bus based on configuration
func New(cfg config.BusConfig, logger *slog.Logger) (Bus, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(logger), nil
	case "redis":
		return NewRedis(cfg.RedisURL, cfg.Channel, logger)
	default:
		return nil, fmt.Errorf("unknown bus type: %s", cfg.Type)
	}
}
