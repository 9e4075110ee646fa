//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/celution/bountyd/internal/auth"
	"github.com/celution/bountyd/internal/config"
	"github.com/celution/bountyd/internal/proofbus"
	"github.com/celution/bountyd/internal/server"
	"github.com/celution/bountyd/internal/storage"
	"github.com/celution/bountyd/pkg/client"
)

const callbackSecret = "e2e-callback-secret"

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	RedisContainer    testcontainers.Container
	ConnString        string
	RedisURL          string
	Servers           [2]*testServer
	TestServer        *httptest.Server
	Store             storage.Store
}

// testServer is one in-process bountyd instance
type testServer struct {
	HTTP  *httptest.Server
	Store storage.Store
	Bus   proofbus.Bus
}

func (s *testServer) Close() {
	s.HTTP.Close()
	s.Bus.Close()
	s.Store.Close()
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("bountyd"),
		postgres.WithUsername("bountyd"),
		postgres.WithPassword("bountyd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// setupRedisE starts a Redis container and returns its URL
func setupRedisE(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := container.Endpoint(ctx, "redis")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	return container, endpoint, nil
}

// startServerE starts bountyd in-process against postgres and redis
func startServerE(connString, redisURL string) (*testServer, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: config.StorageConfig{
			Type:     "postgres",
			Postgres: config.PostgresConfig{URL: connString},
		},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 1},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		Chain:     config.ChainConfig{ChainID: 11142220},
		Identity:  config.IdentityConfig{CallbackSecret: callbackSecret},
		Bus: config.BusConfig{
			Type:     "redis",
			RedisURL: redisURL,
			Channel:  "bountyd:e2e:proofs",
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	bus, err := proofbus.New(cfg.Bus, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create proof bus: %w", err)
	}

	srv := server.New(cfg, server.Deps{Store: store, Bus: bus, Version: "1.0.0-e2e"}, logger)

	return &testServer{HTTP: httptest.NewServer(srv.Handler()), Store: store, Bus: bus}, nil
}

// newClient creates a new API client for the test server
func newClient(srv *httptest.Server) *client.Client {
	return client.New(srv.URL)
}

// postProof sends a signed provider callback
func postProof(t *testing.T, srv *httptest.Server, nullifier, user string) *http.Response {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"attestationId":"1","nullifier":%q,"userIdentifier":%q}`, nullifier, user))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/api/verify", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.SignatureHeader, auth.Sign([]byte(callbackSecret), body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok, "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
