package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "8000", cfg.Server.Port)
	require.Equal(t, "http://localhost:8000", cfg.Server.BaseURL)
	require.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, "soulbound_signature", cfg.Database.Name)
	require.Equal(t, "base-sepolia", cfg.Payment.Network)
	require.Equal(t, 300, cfg.Payment.MaxTimeoutSecs)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig(t *testing.T) {
	t.Run("overrides merge onto defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"server": {"port": "9100", "base_url": "https://sign.example.com"},
			"payment": {
				"price_atomic": "2500000",
				"pay_to": "0x9999999999999999999999999999999999999999",
				"gas_sponsored": true
			}
		}`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "9100", cfg.Server.Port)
		require.Equal(t, "https://sign.example.com", cfg.Server.BaseURL)
		require.Equal(t, "2500000", cfg.Payment.PriceAtomic)
		require.True(t, cfg.Payment.GasSponsored)
		// untouched sections keep their defaults
		require.Equal(t, "localhost", cfg.Database.Host)
		require.Equal(t, "base-sepolia", cfg.Payment.Network)
	})

	t.Run("base url derives from an overridden port", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": "9200"}}`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "http://localhost:9200", cfg.Server.BaseURL)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
		_, err := LoadConfig(path)
		require.Error(t, err)
	})
}
