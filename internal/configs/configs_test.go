package configs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 8080, cfg.Port)
	require.Empty(t, cfg.AllowedOrigins)
	require.Equal(t, []string{DefaultSTUNServer}, cfg.STUNServers)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.org, https://alt.example.org")
	t.Setenv("STUN_SERVERS", "stun:one.example.org:3478,stun:two.example.org:3478")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, []string{"https://chat.example.org", "https://alt.example.org"}, cfg.AllowedOrigins)
	require.Len(t, cfg.STUNServers, 2)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("PORT", "80")
	_, err = LoadConfig()
	require.Error(t, err)
}
