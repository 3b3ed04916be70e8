// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FUNDFOLIO"

// Config holds application configuration
type Config struct {
	DataDir             string        `envconfig:"DATA_DIR" default:"data"` // Base directory for databases and backups, always absolute after Load
	LogLevel            string        `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty           bool          `envconfig:"LOG_PRETTY" default:"false"`
	Port                int           `envconfig:"PORT" default:"8001"`
	ReferencePath       string        `envconfig:"REFERENCE_PATH" default:"reference.xlsx"`
	RefreshSchedule     string        `envconfig:"REFRESH_SCHEDULE" default:"@hourly"`
	MaintenanceSchedule string        `envconfig:"MAINTENANCE_SCHEDULE" default:"0 0 2 * * *"`
	FetchConcurrency    int           `envconfig:"FETCH_CONCURRENCY" default:"4"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	MOEX      MOEXConfig      `envconfig:"MOEX"`
	Telegram  TelegramConfig  `envconfig:"TELEGRAM"`
	Backup    BackupConfig    `envconfig:"BACKUP"`
	Optimizer OptimizerConfig `envconfig:"OPTIMIZER"`
}

// MOEXConfig configures the Moscow Exchange ISS client.
type MOEXConfig struct {
	BaseURL   string        `envconfig:"BASE_URL" default:"https://iss.moex.com"`
	Board     string        `envconfig:"BOARD" default:"TQIF"`
	StartDate string        `envconfig:"START_DATE" default:"2015-01-01"`
	RPS       float64       `envconfig:"RPS" default:"5"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// TelegramConfig configures the bot. An empty token disables it.
type TelegramConfig struct {
	Token      string `envconfig:"TOKEN"`
	WebhookURL string `envconfig:"WEBHOOK_URL"` // Long polling when empty
}

// BackupConfig configures database uploads to S3-compatible storage.
// An empty bucket disables backups.
type BackupConfig struct {
	Bucket        string `envconfig:"BUCKET"`
	Endpoint      string `envconfig:"ENDPOINT"` // Custom endpoint for R2, MinIO, etc.
	Region        string `envconfig:"REGION" default:"auto"`
	AccessKey     string `envconfig:"ACCESS_KEY"`
	SecretKey     string `envconfig:"SECRET_KEY"`
	Schedule      string `envconfig:"SCHEDULE" default:"0 0 3 * * *"`
	Prefix        string `envconfig:"PREFIX" default:"fundfolio/"`
	RetentionDays int    `envconfig:"RETENTION_DAYS" default:"30"` // Zero keeps every backup
}

// OptimizerConfig holds the optimization model constants.
type OptimizerConfig struct {
	Tau            float64       `envconfig:"TAU" default:"0.05"`
	RiskAversion   float64       `envconfig:"RISK_AVERSION" default:"2.5"`
	RiskFreeRate   float64       `envconfig:"RISK_FREE_RATE" default:"0.02"`
	WeightCutoff   float64       `envconfig:"WEIGHT_CUTOFF" default:"0.0001"`
	WeightDecimals int           `envconfig:"WEIGHT_DECIMALS" default:"3"`
	StatDecimals   int           `envconfig:"STAT_DECIMALS" default:"3"`
	RunTimeout     time.Duration `envconfig:"RUN_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("fetch concurrency must be at least 1, got %d", c.FetchConcurrency)
	}
	if strings.TrimSpace(c.RefreshSchedule) == "" {
		return fmt.Errorf("refresh schedule is empty")
	}
	if c.MOEX.RPS <= 0 {
		return fmt.Errorf("MOEX request rate must be positive, got %v", c.MOEX.RPS)
	}
	if _, err := time.Parse("2006-01-02", c.MOEX.StartDate); err != nil {
		return fmt.Errorf("invalid MOEX start date %q: %w", c.MOEX.StartDate, err)
	}

	o := c.Optimizer
	if o.Tau <= 0 {
		return fmt.Errorf("optimizer tau must be positive, got %v", o.Tau)
	}
	if o.RiskAversion <= 0 {
		return fmt.Errorf("optimizer risk aversion must be positive, got %v", o.RiskAversion)
	}
	if o.WeightCutoff < 0 || o.WeightCutoff >= 1 {
		return fmt.Errorf("weight cutoff must be in [0, 1), got %v", o.WeightCutoff)
	}
	if o.WeightDecimals < 1 || o.WeightDecimals > 10 || o.StatDecimals < 0 || o.StatDecimals > 10 {
		return fmt.Errorf("decimals out of range: weights %d, stats %d", o.WeightDecimals, o.StatDecimals)
	}
	if o.RunTimeout <= 0 {
		return fmt.Errorf("optimizer run timeout must be positive, got %v", o.RunTimeout)
	}

	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup retention days must not be negative, got %d", c.Backup.RetentionDays)
	}
	if c.Backup.Bucket != "" && (c.Backup.AccessKey == "") != (c.Backup.SecretKey == "") {
		return fmt.Errorf("backup access key and secret key must be set together")
	}
	return nil
}

// DatabasePath returns the sqlite file for the named database.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// BackupEnabled reports whether an S3 bucket is configured.
func (c *Config) BackupEnabled() bool {
	return c.Backup.Bucket != ""
}
