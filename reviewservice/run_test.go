package reviewservice

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mewiskl/zama-Talklet-Review/internal/config"
	"github.com/mewiskl/zama-Talklet-Review/internal/events"
	"github.com/mewiskl/zama-Talklet-Review/internal/factory"
	"github.com/mewiskl/zama-Talklet-Review/internal/store/memory"
)

func TestStartupHealthTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, startupHealthTimeout(5))
	assert.Equal(t, 60*time.Second, startupHealthTimeout(30))
}

func TestWaitUntilHealthy_MemoryStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.NewForTesting()

	svc := startHealthCheckers(ctx, cfg, zerolog.Nop(), memory.New())
	require.NoError(t, waitUntilHealthy(ctx, cfg, svc))
	assert.Empty(t, svc.Unhealthy())
}

func TestEmbeddedOracleConsumesFacts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.NewForTesting()
	cfg.EmbeddedOracle = true
	cfg.KeyDir = t.TempDir()

	st := memory.New()
	cph, err := factory.NewCipher(cfg, st.Blobs(), true, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, startFactConsumer(ctx, cfg, zerolog.Nop(), st, cph, events.NewBus(8)))

	_, err = factory.NewSigner(cfg)
	require.NoError(t, err, "signing key generated under KeyDir")
}
