package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"florapos/internal/domain"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ORDER_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, domain.OrderModeProduction, cfg.OrderMode)
	assert.Equal(t, "Asia/Jakarta", cfg.StoreTimezone)
	assert.Equal(t, 60*time.Second, cfg.PreviewRefreshInterval)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.SubmitMaxAttempts)
	assert.Equal(t, []string{"General"}, cfg.GeneralCategories)
	assert.True(t, cfg.PrintReceipts)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ORDER_MODE", "TEST")
	t.Setenv("CATALOG_CSV_SOURCES", " ./a.csv, https://example.com/b.csv ,,")
	t.Setenv("SYNC_INTERVAL", "15s")
	t.Setenv("PRINT_RECEIPTS", "false")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, domain.OrderModeTest, cfg.OrderMode)
	assert.Equal(t, []string{"./a.csv", "https://example.com/b.csv"}, cfg.CatalogCSVSources)
	assert.Equal(t, 15*time.Second, cfg.SyncInterval)
	assert.False(t, cfg.PrintReceipts)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.False(t, cfg.SyncEnabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("ORDER_MODE", "staging")
	t.Setenv("STORE_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER_MODE")
	assert.Contains(t, err.Error(), "STORE_TIMEZONE")
}
