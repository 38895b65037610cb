package cli

import (
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/config"
	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/fm"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
	"github.com/gaspcr/shopify-filemaker/internal/shopify"
	"github.com/gaspcr/shopify-filemaker/internal/webhook"
)

// services is the wired object graph shared by the runnable commands. The
// lock table and cycle guard are built once so the full sync and the
// webhook processors contend on the same locks.
type services struct {
	cfg config.Config

	fm   *fm.Client
	shop *shopify.Client

	locks *engine.LockTable
	guard *engine.CycleGuard
	retry engine.RetryPolicy

	orchestrator *engine.Orchestrator
	processor    *webhook.Processor
}

// loadConfig resolves configuration and initialises logging. The verbose
// flag overrides the configured log level.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	obs.InitLogger(level, cfg.LogFile)
	return cfg, nil
}

func buildServices(cfg config.Config) *services {
	s := &services{
		cfg:   cfg,
		locks: engine.NewLockTable(),
		guard: engine.NewCycleGuard(),
		retry: engine.RetryPolicy{
			MaxAttempts: cfg.Tuning.API.MaxRetries,
			BaseDelay:   time.Duration(cfg.Tuning.API.RetryDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Tuning.API.MaxBackoffMs) * time.Millisecond,
		},
	}

	s.fm = fm.NewClient(cfg.FileMaker, cfg.APITimeout())
	s.shop = shopify.NewClient(
		cfg.Shopify,
		cfg.Tuning.Shopify.APIVersion,
		cfg.Tuning.Shopify.RequestsPerSecond,
		cfg.APITimeout(),
	)

	s.orchestrator = &engine.Orchestrator{
		Directory:  s.fm,
		Storefront: s.shop,
		Guard:      s.guard,
		MissingSKU: engine.MissingSKUPolicy(cfg.Tuning.Sync.MissingSKUPolicy),
		Retry:      s.retry,
		Dispatcher: &engine.Dispatcher{
			Storefront: s.shop,
			Directory:  s.fm,
			Locks:      s.locks,
			Retry:      s.retry,
			BatchSize:  cfg.Tuning.Sync.BatchSize,
			WriteDelay: time.Duration(cfg.Tuning.Sync.WriteDelayMs) * time.Millisecond,
		},
	}

	s.processor = &webhook.Processor{
		Directory:  s.fm,
		Storefront: s.shop,
		Locks:      s.locks,
		Retry:      s.retry,
	}

	return s
}
