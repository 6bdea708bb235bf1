// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Session   SessionConfig   `mapstructure:"session"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Sheet     SheetConfig     `mapstructure:"sheet"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the crawl engine and batch orchestration.
type CrawlerConfig struct {
	MaxRetries       int  `mapstructure:"max_retries"`
	CrashBudget      int  `mapstructure:"crash_budget"`
	RestartEvery     int  `mapstructure:"restart_every"`
	DelayMinMs       int  `mapstructure:"delay_min_ms"`
	DelayMaxMs       int  `mapstructure:"delay_max_ms"`
	MinYear          int  `mapstructure:"min_year"`
	MaxYear          int  `mapstructure:"max_year"`
	GCEvery          int  `mapstructure:"gc_every"`
	ProgressEvery    int  `mapstructure:"progress_every"`
	RetryFailedAtEnd bool `mapstructure:"retry_failed_at_end"`
	UseCompatRetry   bool `mapstructure:"use_compat_retry"`
	RunTimeoutMin    int  `mapstructure:"run_timeout_minutes"`
}

// SessionConfig configures the headless browser.
type SessionConfig struct {
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	WaitAfterLoadMs int    `mapstructure:"wait_after_load_ms"`
	CloseTimeoutSec int    `mapstructure:"close_timeout_seconds"`
	WindowWidth     int    `mapstructure:"window_width"`
	WindowHeight    int    `mapstructure:"window_height"`
	Timezone        string `mapstructure:"timezone"`
}

// LedgerConfig identifies the records API the work list comes from.
type LedgerConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	AppID      string `mapstructure:"app_id"`
	AppSecret  string `mapstructure:"app_secret"`
	AppToken   string `mapstructure:"app_token"`
	TableID    string `mapstructure:"table_id"`
	PageSize   int    `mapstructure:"page_size"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// SheetConfig identifies the destination worksheet.
type SheetConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ReconcileConfig paces sheet writes.
type ReconcileConfig struct {
	WriteIntervalMs  int `mapstructure:"write_interval_ms"`
	QuotaCooldownSec int `mapstructure:"quota_cooldown_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VIEWTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.crash_budget", 3)
	v.SetDefault("crawler.restart_every", 75)
	v.SetDefault("crawler.delay_min_ms", 2000)
	v.SetDefault("crawler.delay_max_ms", 4000)
	v.SetDefault("crawler.min_year", 2016)
	v.SetDefault("crawler.max_year", 2030)
	v.SetDefault("crawler.gc_every", 50)
	v.SetDefault("crawler.progress_every", 25)
	v.SetDefault("crawler.retry_failed_at_end", true)
	v.SetDefault("crawler.use_compat_retry", true)
	v.SetDefault("crawler.run_timeout_minutes", 0)
	v.SetDefault("session.nav_timeout_seconds", 30)
	v.SetDefault("session.wait_after_load_ms", 2500)
	v.SetDefault("session.close_timeout_seconds", 15)
	v.SetDefault("session.window_width", 1920)
	v.SetDefault("session.window_height", 1080)
	v.SetDefault("session.timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("ledger.base_url", "https://open.larksuite.com/open-apis")
	v.SetDefault("ledger.page_size", 100)
	v.SetDefault("ledger.timeout_seconds", 30)
	v.SetDefault("sheet.sheet_name", "Tracking")
	v.SetDefault("reconcile.write_interval_ms", 1200)
	v.SetDefault("reconcile.quota_cooldown_seconds", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.CrashBudget <= 0 {
		return fmt.Errorf("crawler.crash_budget must be > 0")
	}
	if c.Crawler.DelayMinMs > c.Crawler.DelayMaxMs {
		return fmt.Errorf("crawler.delay_min_ms must be <= crawler.delay_max_ms")
	}
	if c.Crawler.MinYear >= c.Crawler.MaxYear {
		return fmt.Errorf("crawler.min_year must be < crawler.max_year")
	}
	if c.Session.NavTimeoutSec <= 0 {
		return fmt.Errorf("session.nav_timeout_seconds must be > 0")
	}
	if c.Reconcile.WriteIntervalMs <= 0 {
		return fmt.Errorf("reconcile.write_interval_ms must be > 0")
	}
	return nil
}

// DelayMin returns the minimum pre-navigation delay.
func (c CrawlerConfig) DelayMin() time.Duration {
	return time.Duration(c.DelayMinMs) * time.Millisecond
}

// DelayMax returns the maximum pre-navigation delay.
func (c CrawlerConfig) DelayMax() time.Duration {
	return time.Duration(c.DelayMaxMs) * time.Millisecond
}
