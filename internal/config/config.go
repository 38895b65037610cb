// Package config provides runtime configuration for the sync service.
//
// Secrets and endpoints come from environment variables; tuning knobs come
// from an optional YAML file (CONFIG_FILE, default config/config.yml).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileMakerConfig holds FileMaker Data API connection settings.
type FileMakerConfig struct {
	Host     string
	Database string
	Username string
	Password string
}

// ShopifyConfig holds Shopify Admin API connection settings.
type ShopifyConfig struct {
	ShopURL       string
	AccessToken   string
	LocationID    string
	WebhookSecret string
	ShopDomain    string
}

// Tuning holds the YAML-file knobs with sensible defaults.
type Tuning struct {
	API struct {
		TimeoutSec   int `yaml:"timeout"`
		MaxRetries   int `yaml:"max_retries"`
		RetryDelayMs int `yaml:"retry_delay_ms"`
		MaxBackoffMs int `yaml:"max_backoff_ms"`
	} `yaml:"api"`
	Sync struct {
		BatchSize        int    `yaml:"batch_size"`
		WriteDelayMs     int    `yaml:"write_delay_ms"`
		MissingSKUPolicy string `yaml:"missing_sku_policy"` // "skip" or "fail"
	} `yaml:"sync"`
	Shopify struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		APIVersion        string  `yaml:"api_version"`
	} `yaml:"shopify"`
	Webhook struct {
		ValidateSignature *bool `yaml:"validate_signature"`
		QueueCapacity     int   `yaml:"queue_capacity"`
	} `yaml:"webhook"`
	Workers struct {
		Min                     int `yaml:"min"`
		Max                     int `yaml:"max"`
		Initial                 int `yaml:"initial"`
		ScaleIntervalMs         int `yaml:"scale_interval_ms"`
		ScaleUpBacklogPerWorker int `yaml:"scale_up_backlog_per_worker"`
		ScaleDownIdleTicks      int `yaml:"scale_down_idle_ticks"`
	} `yaml:"workers"`
}

// Config holds the resolved configuration for the whole service.
type Config struct {
	FileMaker FileMakerConfig
	Shopify   ShopifyConfig

	HTTPAddr        string
	Environment     string
	LogLevel        string
	LogFile         string
	SyncInterval    time.Duration
	ShutdownTimeout time.Duration

	Tuning Tuning
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load collects configuration from the environment plus the optional YAML
// tuning file. Missing credentials are reported by Validate, not here, so
// commands like config-info still work on a partial setup.
func Load() (Config, error) {
	cfg := Config{
		FileMaker: FileMakerConfig{
			Host:     getenv("FILEMAKER_HOST", ""),
			Database: getenv("FILEMAKER_DATABASE", ""),
			Username: getenv("FILEMAKER_USERNAME", ""),
			Password: getenv("FILEMAKER_PASSWORD", ""),
		},
		Shopify: ShopifyConfig{
			ShopURL:       getenv("SHOPIFY_SHOP_URL", ""),
			AccessToken:   getenv("SHOPIFY_ACCESS_TOKEN", ""),
			LocationID:    getenv("SHOPIFY_LOCATION_ID", ""),
			WebhookSecret: getenv("SHOPIFY_WEBHOOK_SECRET", ""),
			ShopDomain:    getenv("SHOPIFY_SHOP_DOMAIN", ""),
		},
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		Environment:     getenv("ENVIRONMENT", "development"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFile:         getenv("LOG_FILE", ""),
		SyncInterval:    time.Duration(atoienv("SYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		ShutdownTimeout: time.Duration(atoienv("SHUTDOWN_TIMEOUT", 15)) * time.Second,
	}
	cfg.Tuning = defaultTuning()

	path := getenv("CONFIG_FILE", "config/config.yml")
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg.Tuning); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyTuningFloors(&cfg.Tuning)
	return cfg, nil
}

func defaultTuning() Tuning {
	var t Tuning
	t.API.TimeoutSec = 30
	t.API.MaxRetries = 3
	t.API.RetryDelayMs = 1000
	t.API.MaxBackoffMs = 30000
	t.Sync.BatchSize = 100
	t.Sync.WriteDelayMs = 500
	t.Sync.MissingSKUPolicy = "skip"
	t.Shopify.RequestsPerSecond = 2
	t.Shopify.APIVersion = "2024-01"
	t.Webhook.QueueCapacity = 256
	t.Workers.Min = 1
	t.Workers.Max = 4
	t.Workers.Initial = 2
	t.Workers.ScaleIntervalMs = 500
	t.Workers.ScaleUpBacklogPerWorker = 20
	t.Workers.ScaleDownIdleTicks = 6
	return t
}

// applyTuningFloors keeps a hand-edited YAML file from producing values the
// engine cannot run with.
func applyTuningFloors(t *Tuning) {
	if t.API.MaxRetries < 1 {
		t.API.MaxRetries = 1
	}
	if t.Sync.BatchSize < 1 {
		t.Sync.BatchSize = 1
	}
	if t.Sync.MissingSKUPolicy != "fail" {
		t.Sync.MissingSKUPolicy = "skip"
	}
	if t.Shopify.RequestsPerSecond <= 0 {
		t.Shopify.RequestsPerSecond = 2
	}
	if t.Webhook.QueueCapacity < 1 {
		t.Webhook.QueueCapacity = 256
	}
	if t.Workers.Min < 1 {
		t.Workers.Min = 1
	}
	if t.Workers.Max < t.Workers.Min {
		t.Workers.Max = t.Workers.Min
	}
	if t.Workers.Initial < t.Workers.Min {
		t.Workers.Initial = t.Workers.Min
	}
	if t.Workers.Initial > t.Workers.Max {
		t.Workers.Initial = t.Workers.Max
	}
}

// APITimeout returns the per-request timeout for external calls.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.Tuning.API.TimeoutSec) * time.Second
}

// ValidateSignature reports whether webhook HMAC checking is enabled.
// Checking is on unless the YAML file explicitly disables it.
func (c Config) ValidateSignature() bool {
	if c.Tuning.Webhook.ValidateSignature == nil {
		return true
	}
	return *c.Tuning.Webhook.ValidateSignature
}

// Validate reports missing required settings for commands that talk to the
// live systems.
func (c Config) Validate() error {
	missing := []string{}
	if c.FileMaker.Host == "" {
		missing = append(missing, "FILEMAKER_HOST")
	}
	if c.FileMaker.Database == "" {
		missing = append(missing, "FILEMAKER_DATABASE")
	}
	if c.FileMaker.Username == "" {
		missing = append(missing, "FILEMAKER_USERNAME")
	}
	if c.FileMaker.Password == "" {
		missing = append(missing, "FILEMAKER_PASSWORD")
	}
	if c.Shopify.ShopURL == "" {
		missing = append(missing, "SHOPIFY_SHOP_URL")
	}
	if c.Shopify.AccessToken == "" {
		missing = append(missing, "SHOPIFY_ACCESS_TOKEN")
	}
	if c.Shopify.LocationID == "" {
		missing = append(missing, "SHOPIFY_LOCATION_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}
