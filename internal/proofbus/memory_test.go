package proofbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celution/bountyd/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemory_FanOut(t *testing.T) {
	bus := NewMemory(testLogger())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	ev := Event{Nullifier: "42", UserIdentifier: "0xabc", ReceivedAt: time.Now()}
	require.NoError(t, bus.Publish(context.Background(), ev))

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestMemory_UnsubscribeOnCancel(t *testing.T) {
	bus := NewMemory(testLogger())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers())

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestMemory_Close(t *testing.T) {
	bus := NewMemory(testLogger())
	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, open := <-ch
	assert.False(t, open)

	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrClosed)
	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewMemory(testLogger())
	defer bus.Close()

	_, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Nullifier: "1"}))
	}
}

func TestNew(t *testing.T) {
	bus, err := New(config.BusConfig{Type: "memory"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, bus)

	_, err = New(config.BusConfig{Type: "kafka"}, testLogger())
	assert.Error(t, err)

	_, err = New(config.BusConfig{Type: "redis"}, testLogger())
	assert.Error(t, err, "redis bus needs a URL")
}
