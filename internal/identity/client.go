package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/pkg/client"
)

const (
	streamPath       = "/api/verify/stream"
	handshakeTimeout = 10 * time.Second
	minBackoff       = 500 * time.Millisecond
	maxBackoff       = 30 * time.Second
)

// Client receives proofs from the verification backend over both channels:
// a terminal fetch of the latest proof and a push stream.
type Client struct {
	api    *client.Client
	dialer *websocket.Dialer
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...client.Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    client.New(strings.TrimRight(baseURL, "/"), opts...),
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: logger.With("component", "identity"),
		now:    time.Now,
	}
}

// Latest fetches the most recent proof for addr. ErrNoProof means the
// backend has nothing yet.
func (c *Client) Latest(ctx context.Context, addr common.Address) (Proof, error) {
	const op = "identity.latest"
	msg, err := c.api.LatestProof(ctx, strings.ToLower(addr.Hex()))
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Status == http.StatusNotFound:
				return Proof{}, ErrNoProof
			case apiErr.Status >= 500:
				return Proof{}, failures.New(failures.Transient, op, apiErr.Message, err)
			}
			return Proof{}, failures.New(failures.Unknown, op, apiErr.Message, err)
		}
		if failures.IsNetworkError(err) {
			return Proof{}, failures.New(failures.Transient, op, "", err)
		}
		return Proof{}, err
	}
	if msg.Nullifier == "" {
		return Proof{}, ErrNoProof
	}
	return proofMessage{Nullifier: msg.Nullifier, UserIdentifier: msg.UserIdentifier}.toProof(c.now())
}

// Subscribe streams proofs for addr until ctx is done. Transport errors
// trigger a reconnect with capped exponential backoff; there is no overall
// deadline. The returned channel is closed when ctx is done.
func (c *Client) Subscribe(ctx context.Context, addr common.Address) <-chan Proof {
	out := make(chan Proof, 4)
	go func() {
		defer close(out)
		b := reconnectBackOff()
		for {
			connected, err := c.stream(ctx, addr, out)
			if ctx.Err() != nil {
				return
			}
			if connected {
				b.Reset()
			}
			delay := b.NextBackOff()
			c.logger.Debug("proof stream interrupted, reconnecting", "error", err, "delay", delay)

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
	return out
}

// reconnectBackOff never gives up; the subscriber's context bounds it.
func reconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// stream runs one websocket session. connected reports whether the
// handshake succeeded.
func (c *Client) stream(ctx context.Context, addr common.Address, out chan<- Proof) (connected bool, err error) {
	streamURL, err := c.streamURL(addr)
	if err != nil {
		return false, err
	}
	conn, _, err := c.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg proofMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}
		proof, err := msg.toProof(c.now())
		if err != nil {
			c.logger.Warn("dropping malformed proof", "error", err)
			continue
		}
		if !proof.Matches(addr) {
			continue
		}
		select {
		case out <- proof:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (c *Client) streamURL(addr common.Address) (string, error) {
	u, err := url.Parse(c.api.BaseURL())
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	u.RawQuery = url.Values{"user": {strings.ToLower(addr.Hex())}}.Encode()
	return u.String(), nil
}
