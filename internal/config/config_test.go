// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzlebounty/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 30*time.Second, cfg.Settings.RailTimeout)
	assert.Equal(t, "5", cfg.Settings.PuzzleFeePercent.String())
	assert.Equal(t, "2.5", cfg.Settings.Policies[domain.RailCard].WithdrawFee.String())
	assert.Equal(t, 30*time.Minute, cfg.Settings.Policies[domain.RailAccountChain].DepositTTL)
	assert.False(t, cfg.Card.Enabled())
	assert.False(t, cfg.BTC.Enabled())
	assert.False(t, cfg.SOL.Enabled())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("BTC_TOLERANCE_PERCENT", "2.5")
	t.Setenv("SOL_DEPOSIT_TTL", "10m")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "pgx", cfg.DB.Driver)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "2.5", cfg.Settings.Policies[domain.RailUTXOChain].TolerancePercent.String())
	assert.Equal(t, 10*time.Minute, cfg.Settings.Policies[domain.RailAccountChain].DepositTTL)
	assert.True(t, cfg.Card.Enabled())
	assert.Equal(t, "whsec_x", cfg.Card.WebhookSecret)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt_secret: from-file\nserver_port: \"7070\"\ncard_withdraw_fee: \"1.25\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "6060")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "6060", cfg.ServerPort, "environment wins over the file")
	assert.Equal(t, "1.25", cfg.Settings.Policies[domain.RailCard].WithdrawFee.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"MissingSecret", map[string]string{}},
		{"BadStoreDriver", map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "sqlite"}},
		{"BadDBDriver", map[string]string{"JWT_SECRET": "s", "DB_DRIVER": "mysql"}},
		{"BadDecimal", map[string]string{"JWT_SECRET": "s", "PUZZLE_FEE_PERCENT": "five"}},
		{"NegativeFee", map[string]string{"JWT_SECRET": "s", "CARD_WITHDRAW_FEE": "-1"}},
		{"MinAboveMax", map[string]string{"JWT_SECRET": "s", "SOL_DEPOSIT_MIN": "20000"}},
		{"CardWithoutWebhookSecret", map[string]string{"JWT_SECRET": "s", "STRIPE_SECRET_KEY": "sk_test_x", "STRIPE_WEBHOOK_SECRET": ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
