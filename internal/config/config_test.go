package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FUNDFOLIO_DATA_DIR", filepath.Join(dir, "nested"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "nested"), cfg.DataDir)
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "@hourly", cfg.RefreshSchedule)
	assert.Equal(t, "0 0 2 * * *", cfg.MaintenanceSchedule)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.Equal(t, "https://iss.moex.com", cfg.MOEX.BaseURL)
	assert.Equal(t, 0.05, cfg.Optimizer.Tau)
	assert.Equal(t, 2.5, cfg.Optimizer.RiskAversion)
	assert.Equal(t, 0.02, cfg.Optimizer.RiskFreeRate)
	assert.Equal(t, 0.0001, cfg.Optimizer.WeightCutoff)
	assert.Equal(t, 3, cfg.Optimizer.WeightDecimals)
	assert.Equal(t, 30*time.Second, cfg.Optimizer.RunTimeout)
	assert.False(t, cfg.BackupEnabled())
	assert.Equal(t, filepath.Join(cfg.DataDir, "prices.db"), cfg.DatabasePath("prices"))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FUNDFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("FUNDFOLIO_PORT", "9090")
	t.Setenv("FUNDFOLIO_MOEX_BOARD", "TQTF")
	t.Setenv("FUNDFOLIO_OPTIMIZER_TAU", "0.1")
	t.Setenv("FUNDFOLIO_BACKUP_BUCKET", "fund-backups")
	t.Setenv("FUNDFOLIO_TELEGRAM_WEBHOOK_URL", "https://bot.example.com/telegram/webhook")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "TQTF", cfg.MOEX.Board)
	assert.Equal(t, 0.1, cfg.Optimizer.Tau)
	assert.True(t, cfg.BackupEnabled())
	assert.Equal(t, "https://bot.example.com/telegram/webhook", cfg.Telegram.WebhookURL)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("FUNDFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("FUNDFOLIO_PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:             8001,
			FetchConcurrency: 4,
			RefreshSchedule:  "@hourly",
			MOEX:             MOEXConfig{RPS: 5, StartDate: "2015-01-01"},
			Optimizer: OptimizerConfig{
				Tau:            0.05,
				RiskAversion:   2.5,
				WeightCutoff:   1e-4,
				WeightDecimals: 3,
				StatDecimals:   3,
				RunTimeout:     time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"no concurrency", func(c *Config) { c.FetchConcurrency = 0 }, true},
		{"blank schedule", func(c *Config) { c.RefreshSchedule = " " }, true},
		{"bad start date", func(c *Config) { c.MOEX.StartDate = "01.01.2015" }, true},
		{"non-positive tau", func(c *Config) { c.Optimizer.Tau = 0 }, true},
		{"cutoff of one", func(c *Config) { c.Optimizer.WeightCutoff = 1 }, true},
		{"negative retention", func(c *Config) { c.Backup.RetentionDays = -1 }, true},
		{"half backup credentials", func(c *Config) {
			c.Backup.Bucket = "b"
			c.Backup.AccessKey = "key"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
