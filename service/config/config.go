package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported chain families.
const (
	ChainEVM    = "evm"
	ChainSolana = "solana"
)

// Confirmation modes.
const (
	// ConfirmationDirect polls the chain from the process that submitted.
	ConfirmationDirect = "direct"
	// ConfirmationTemporal awaits the receipt in a Temporal workflow.
	ConfirmationTemporal = "temporal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// APIToken is the bearer token required on state-changing API routes.
	APIToken string
	// CORSAllowedOrigins lists the browser origins allowed to call the API.
	// "*" allows any origin; empty allows none.
	CORSAllowedOrigins []string
	// MaxSwaps caps the swaps held in memory by the API server.
	MaxSwaps int
	// SwapTTL is how long an idle, settled swap is kept before eviction.
	SwapTTL time.Duration

	// NATS configuration
	NATSURL string

	// Chain configuration
	Chain   string // "evm" or "solana"
	Network string // metrics label and Solana cluster name

	EVMRPCURL     string
	SolanaRPCURLs []string

	// SolanaSimulationPayer is a base58 account that pays for simulations
	// when no wallet key is set. It needs no private key.
	SolanaSimulationPayer string

	// WalletPrivateKey is hex for EVM and base58 for Solana. Without it the
	// service can simulate and read tokens but not submit.
	WalletPrivateKey string

	// Contract call configuration
	SwapFunction string
	SwapABIPath  string
	GasBufferPct int

	// Confirmation configuration
	ConfirmationMode         string
	ConfirmationTimeout      time.Duration
	ConfirmationPollInterval time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.APIToken = os.Getenv("API_TOKEN")
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	maxSwaps, err := parseInt("MAX_SWAPS", 1000)
	if err != nil {
		errs = append(errs, err)
	} else if maxSwaps <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SWAPS must be positive"))
	} else {
		cfg.MaxSwaps = maxSwaps
	}

	swapTTL, err := parseDuration("SWAP_TTL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else if swapTTL <= 0 {
		errs = append(errs, fmt.Errorf("SWAP_TTL must be positive"))
	} else {
		cfg.SwapTTL = swapTTL
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Chain configuration
	cfg.Chain = strings.ToLower(getEnvOrDefault("CHAIN", ChainEVM))
	cfg.Network = getEnvOrDefault("NETWORK", "mainnet")
	cfg.EVMRPCURL = os.Getenv("EVM_RPC_URL")
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	cfg.SolanaSimulationPayer = os.Getenv("SOLANA_SIMULATION_PAYER")
	cfg.WalletPrivateKey = os.Getenv("WALLET_PRIVATE_KEY")

	switch cfg.Chain {
	case ChainEVM:
		if cfg.EVMRPCURL == "" {
			errs = append(errs, fmt.Errorf("EVM_RPC_URL is required when CHAIN=evm"))
		}
	case ChainSolana:
		if len(cfg.SolanaRPCURLs) == 0 {
			errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required when CHAIN=solana"))
		}
	default:
		errs = append(errs, fmt.Errorf("CHAIN must be %q or %q, got %q", ChainEVM, ChainSolana, cfg.Chain))
	}

	// Contract call configuration
	cfg.SwapFunction = getEnvOrDefault("SWAP_FUNCTION", "buyToken")
	cfg.SwapABIPath = os.Getenv("SWAP_ABI_PATH")

	bufferPct, err := parseInt("GAS_BUFFER_PCT", 20)
	if err != nil {
		errs = append(errs, err)
	} else if bufferPct < 0 {
		errs = append(errs, fmt.Errorf("GAS_BUFFER_PCT cannot be negative"))
	} else {
		cfg.GasBufferPct = bufferPct
	}

	// Confirmation configuration
	cfg.ConfirmationMode = strings.ToLower(getEnvOrDefault("CONFIRMATION_MODE", ConfirmationDirect))
	if cfg.ConfirmationMode != ConfirmationDirect && cfg.ConfirmationMode != ConfirmationTemporal {
		errs = append(errs, fmt.Errorf("CONFIRMATION_MODE must be %q or %q, got %q",
			ConfirmationDirect, ConfirmationTemporal, cfg.ConfirmationMode))
	}

	timeout, err := parseDuration("CONFIRMATION_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmationTimeout = timeout
	}

	pollInterval, err := parseDuration("CONFIRMATION_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else if pollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("CONFIRMATION_POLL_INTERVAL must be at least 100ms, got %v", pollInterval))
	} else {
		cfg.ConfirmationPollInterval = pollInterval
	}

	// Validate intervals
	if cfg.ConfirmationPollInterval > cfg.ConfirmationTimeout {
		errs = append(errs, fmt.Errorf("CONFIRMATION_POLL_INTERVAL (%v) cannot be greater than CONFIRMATION_TIMEOUT (%v)",
			cfg.ConfirmationPollInterval, cfg.ConfirmationTimeout))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "capfriends-confirmations")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// ValidateServer checks the settings only the HTTP API needs. A server
// holding a signing key must not expose its submit route unauthenticated.
func (c *Config) ValidateServer() error {
	var errs []error

	if c.CanSubmit() && c.APIToken == "" {
		errs = append(errs, fmt.Errorf("API_TOKEN is required when WALLET_PRIVATE_KEY is set"))
	}
	if c.APIToken != "" && len(c.APIToken) < 16 {
		errs = append(errs, fmt.Errorf("API_TOKEN must be at least 16 characters"))
	}
	for _, origin := range c.CORSAllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS: %q must be \"*\" or an http(s) origin", origin))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("server configuration invalid: %v", errs)
	}
	return nil
}

// CanSubmit reports whether a signing key is configured.
func (c *Config) CanSubmit() bool {
	return c.WalletPrivateKey != ""
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
