package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
	Chain     ChainConfig
	Identity  IdentityConfig
	Bus       BusConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// ChainConfig holds the EVM endpoint and bounty contract settings
type ChainConfig struct {
	RPCURL              string
	ChainID             int64
	ContractAddress     string
	RequestsPerSecond   float64
	Burst               int
	ReceiptPollInterval time.Duration
}

// IdentityConfig holds the identity-proof application settings
type IdentityConfig struct {
	AppName         string
	Scope           string
	Endpoint        string
	EndpointType    string
	Logo            string
	DeepLinkBase    string
	UserDefinedData string
	BackendURL      string
	CallbackSecret  string
}

// BusConfig selects how received proofs are fanned out to stream clients
type BusConfig struct {
	Type     string // "memory" or "redis"
	RedisURL string
	Channel  string
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 30),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/bountyd.db"),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 1),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Chain: ChainConfig{
			RPCURL:              getEnv("CHAIN_RPC_URL", "https://forno.celo-sepolia.celo-testnet.org"),
			ChainID:             int64(getEnvInt("CHAIN_ID", 11142220)),
			ContractAddress:     getEnv("CONTRACT_ADDRESS", ""),
			RequestsPerSecond:   getEnvFloat("CHAIN_RPC_RPS", 10),
			Burst:               getEnvInt("CHAIN_RPC_BURST", 5),
			ReceiptPollInterval: getEnvDuration("CHAIN_RECEIPT_POLL_INTERVAL", 2*time.Second),
		},
		Identity: IdentityConfig{
			AppName:         getEnv("IDENTITY_APP_NAME", ""),
			Scope:           getEnv("IDENTITY_SCOPE", ""),
			Endpoint:        getEnv("IDENTITY_ENDPOINT", ""),
			EndpointType:    getEnv("IDENTITY_ENDPOINT_TYPE", "https"),
			Logo:            getEnv("IDENTITY_LOGO", ""),
			DeepLinkBase:    getEnv("IDENTITY_DEEPLINK_BASE", "https://redirect.self.xyz?selfApp="),
			UserDefinedData: getEnv("IDENTITY_USER_DATA", ""),
			BackendURL:      getEnv("IDENTITY_BACKEND_URL", "http://localhost:8080"),
			CallbackSecret:  getEnv("IDENTITY_CALLBACK_SECRET", ""),
		},
		Bus: BusConfig{
			Type:     getEnv("BUS_TYPE", "memory"),
			RedisURL: getEnv("REDIS_URL", ""),
			Channel:  getEnv("BUS_CHANNEL", "bountyd:proofs"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 0),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	// If REDIS_URL is set, default to the redis bus
	if cfg.Bus.RedisURL != "" && cfg.Bus.Type == "memory" {
		cfg.Bus.Type = "redis"
	}

	if cfg.Chain.ContractAddress != "" && !common.IsHexAddress(cfg.Chain.ContractAddress) {
		return nil, fmt.Errorf("CONTRACT_ADDRESS %q is not a hex address", cfg.Chain.ContractAddress)
	}

	return cfg, nil
}

// Warnings lists settings that are missing. Features depending on them
// degrade rather than fail; callers log each entry.
func (c *Config) Warnings() []string {
	var w []string
	if c.Chain.ContractAddress == "" {
		w = append(w, "CONTRACT_ADDRESS is not set: issue and verification reads are disabled")
	}
	if c.Identity.Scope == "" {
		w = append(w, "IDENTITY_SCOPE is not set: identity challenges cannot be built")
	}
	if c.Identity.AppName == "" {
		w = append(w, "IDENTITY_APP_NAME is not set")
	}
	if c.Identity.Endpoint == "" {
		w = append(w, "IDENTITY_ENDPOINT is not set: proofs have no callback target")
	}
	if c.Identity.CallbackSecret == "" {
		w = append(w, "IDENTITY_CALLBACK_SECRET is not set: proof callbacks are accepted unsigned")
	}
	return w
}

// Contract returns the parsed contract address and whether it is set.
func (c ChainConfig) Contract() (common.Address, bool) {
	if c.ContractAddress == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.ContractAddress), true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
