package proofbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Memory is an in-process bus.
type Memory struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
	logger *slog.Logger
}

// NewMemory creates an in-process bus.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subs:   make(map[chan Event]struct{}),
		logger: logger.With("component", "proofbus"),
	}
}

// Publish delivers ev to every subscriber. Slow subscribers whose buffer is
// full miss the event.
func (m *Memory) Publish(ctx context.Context, ev Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("subscriber buffer full, dropping proof event", "user", ev.UserIdentifier)
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done.
func (m *Memory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	context.AfterFunc(ctx, func() { m.remove(ch) })
	return ch, nil
}

func (m *Memory) remove(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// Close closes every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
