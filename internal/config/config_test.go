package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGORA_AUTH_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, 5*time.Second, cfg.AuthzTimeout)
	require.False(t, cfg.AuthzDedupe)
	require.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	require.Equal(t, time.Minute, cfg.DelegationSweep)
	require.True(t, cfg.DevTokens())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGORA_AUTH_SECRET", "s3cret")
	t.Setenv("AGORA_ENV", "production")
	t.Setenv("AGORA_AUTHZ_URL", "https://authz.example")
	t.Setenv("AGORA_AUTHZ_TIMEOUT", "750ms")
	t.Setenv("AGORA_AUTHZ_DEDUPE", "true")
	t.Setenv("AGORA_RATE_BURST", "5")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.False(t, cfg.DevTokens())
	require.Equal(t, "https://authz.example", cfg.AuthzURL)
	require.Equal(t, 750*time.Millisecond, cfg.AuthzTimeout)
	require.True(t, cfg.AuthzDedupe)
	require.Equal(t, 5, cfg.RateBurst)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AGORA_AUTH_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsTwoTransports(t *testing.T) {
	t.Setenv("AGORA_AUTH_SECRET", "s3cret")
	t.Setenv("AGORA_AUTHZ_URL", "https://authz.example")
	t.Setenv("AGORA_AUTHZ_GRPC_TARGET", "authz:9090")
	_, err := Load()
	require.Error(t, err)
}
