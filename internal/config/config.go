package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Prefix is the environment variable prefix, e.g. TALKLET_HTTP_PORT.
const Prefix = "TALKLET"

// DevInputProofKey is used outside production when INPUT_PROOF_KEY is unset.
// Clients of a development server use it too.
const DevInputProofKey = "74616c6b6c65742d6465762d696e7075742d70726f6f662d6b6579"

// Config holds the configuration shared by the review service and the
// decryption oracle.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"4194304"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Storage: memory | sqlite | postgres
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/talklet.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Ciphertext backend: mock | lattice
	CipherBackend string `envconfig:"CIPHER_BACKEND" default:"lattice"`
	KeyDir        string `envconfig:"KEY_DIR" default:"./data/keys"`
	InputProofKey string `envconfig:"INPUT_PROOF_KEY" default:""`

	// Attestations
	RequireAttestation bool          `envconfig:"REQUIRE_ATTESTATION" default:"true"`
	OracleIssuer       string        `envconfig:"ORACLE_ISSUER" default:"talklet-decryption-oracle"`
	AttestationTTL     time.Duration `envconfig:"ATTESTATION_TTL" default:"24h"`

	// Oracle worker
	OraclePollInterval time.Duration `envconfig:"ORACLE_POLL_INTERVAL" default:"2s"`
	OracleBatchSize    int           `envconfig:"ORACLE_BATCH_SIZE" default:"10"`
	OracleMaxBackoff   time.Duration `envconfig:"ORACLE_MAX_BACKOFF" default:"5m"`
	// EmbeddedOracle runs the decryption oracle inside the review service.
	// Development only: it puts the secret key next to the registry.
	EmbeddedOracle bool `envconfig:"EMBEDDED_ORACLE" default:"false"`

	BusBuffer int `envconfig:"BUS_BUFFER" default:"1024"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"5"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
	BootstrapTimeoutSeconds   int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults validates drivers and fills derived values.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	switch c.CipherBackend {
	case "mock", "lattice":
	default:
		return fmt.Errorf("unsupported CIPHER_BACKEND: %s", c.CipherBackend)
	}

	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("unsupported ENVIRONMENT: %s", c.Environment)
	}

	if c.InputProofKey == "" {
		if c.IsProduction() {
			return fmt.Errorf("INPUT_PROOF_KEY is required in production")
		}
		c.InputProofKey = DevInputProofKey
	}
	if c.IsProduction() && c.CipherBackend == "mock" {
		return fmt.Errorf("CIPHER_BACKEND=mock is not allowed in production")
	}
	if c.IsProduction() && !c.RequireAttestation {
		return fmt.Errorf("REQUIRE_ATTESTATION cannot be disabled in production")
	}
	if c.IsProduction() && c.EmbeddedOracle {
		return fmt.Errorf("EMBEDDED_ORACLE is not allowed in production")
	}
	if c.OracleBatchSize <= 0 {
		c.OracleBatchSize = 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// New loads .env files when present, then parses TALKLET_* variables.
// Already-set variables win over .env values.
func New() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("cipher_backend", cfg.CipherBackend).
		Int("port", cfg.HTTPPort).
		Bool("require_attestation", cfg.RequireAttestation).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns an in-memory, mock-cipher configuration.
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		MaxBodyBytes:              4 << 20,
		ShutdownTimeout:           time.Second,
		DBDriver:                  "memory",
		CipherBackend:             "mock",
		InputProofKey:             DevInputProofKey,
		OracleIssuer:              "talklet-decryption-oracle",
		AttestationTTL:            time.Hour,
		OraclePollInterval:        50 * time.Millisecond,
		OracleBatchSize:           10,
		OracleMaxBackoff:          time.Second,
		BusBuffer:                 64,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
		BootstrapTimeoutSeconds:   1,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// OracleKeyPath is where the oracle's Ed25519 signing key lives.
func (c *Config) OracleKeyPath() string { return c.KeyDir + "/oracle.ed25519" }

// OraclePublicKeyPath is where the service reads the attestation verifying key.
func (c *Config) OraclePublicKeyPath() string { return c.KeyDir + "/oracle.ed25519.pub" }
