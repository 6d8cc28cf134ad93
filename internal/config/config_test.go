package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoad_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "lattice", cfg.CipherBackend)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.True(t, cfg.RequireAttestation)
	assert.Equal(t, 24*time.Hour, cfg.AttestationTTL)
	assert.Equal(t, DevInputProofKey, cfg.InputProofKey)
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	t.Setenv("TALKLET_DB_DRIVER", "memory")
	t.Setenv("TALKLET_CIPHER_BACKEND", "mock")
	t.Setenv("TALKLET_ORACLE_POLL_INTERVAL", "250ms")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DBDriver)
	assert.Equal(t, "mock", cfg.CipherBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.OraclePollInterval)
}

func TestResolveDefaults_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":       func(c *Config) { c.DBDriver = "spanner" },
		"postgres without dsn": func(c *Config) { c.DBDriver = "postgres" },
		"unknown backend":      func(c *Config) { c.CipherBackend = "paillier" },
		"prod without key": func(c *Config) {
			c.Environment = EnvProduction
			c.InputProofKey = ""
			c.CipherBackend = "lattice"
			c.RequireAttestation = true
		},
		"prod with mock": func(c *Config) { c.Environment = EnvProduction; c.CipherBackend = "mock" },
		"prod without attest": func(c *Config) {
			c.Environment = EnvProduction
			c.CipherBackend = "lattice"
			c.RequireAttestation = false
		},
		"unknown environment": func(c *Config) { c.Environment = "staging" },
		"prod embedded oracle": func(c *Config) {
			c.Environment = EnvProduction
			c.CipherBackend = "lattice"
			c.RequireAttestation = true
			c.EmbeddedOracle = true
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewForTesting()
			mutate(cfg)
			assert.Error(t, cfg.ResolveDefaults())
		})
	}
}

func TestNewForTestingResolves(t *testing.T) {
	cfg := NewForTesting()
	require.NoError(t, cfg.ResolveDefaults())
	assert.True(t, cfg.IsTesting())
	assert.False(t, cfg.IsProduction())
}
