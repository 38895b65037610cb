package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
	httpapi "github.com/gaspcr/shopify-filemaker/internal/http"
	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
	"github.com/gaspcr/shopify-filemaker/internal/queue"
	"github.com/gaspcr/shopify-filemaker/internal/scheduler"
	"github.com/gaspcr/shopify-filemaker/internal/webhook"
)

// NewServeCommand creates the long-running service command: webhook
// receiver plus the background full-sync scheduler in one process.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and sync scheduler",
		Long: `Run the service: an HTTP listener for Shopify order webhooks and a
background scheduler that triggers a full sync every SYNC_INTERVAL_MINUTES.

Shutdown on SIGINT/SIGTERM is graceful: intake closes first, the queue
drains within SHUTDOWN_TIMEOUT, and an in-flight sync cycle finishes its
current batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts)
		},
	}
}

func runServe(rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "incomplete configuration", err)
	}

	obs.Logger.Info("service_starting", "environment", cfg.Environment)
	s := buildServices(cfg)

	validator := &webhook.Validator{
		Secret:     cfg.Shopify.WebhookSecret,
		ShopDomain: cfg.Shopify.ShopDomain,
		Enabled:    cfg.ValidateSignature(),
	}
	if !validator.Enabled {
		obs.Logger.Warn("webhook_signature_validation_disabled")
	}

	q := queue.New(cfg.Tuning.Webhook.QueueCapacity)
	mgr := queue.NewManager(queue.ScalerConfig{
		Min:                     cfg.Tuning.Workers.Min,
		Max:                     cfg.Tuning.Workers.Max,
		Initial:                 cfg.Tuning.Workers.Initial,
		ScaleInterval:           time.Duration(cfg.Tuning.Workers.ScaleIntervalMs) * time.Millisecond,
		ScaleUpBacklogPerWorker: cfg.Tuning.Workers.ScaleUpBacklogPerWorker,
		ScaleDownIdleTicks:      cfg.Tuning.Workers.ScaleDownIdleTicks,
	}, q, func(ctx context.Context, ev model.OrderEvent) {
		s.processor.ProcessOrder(ctx, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	sched := &scheduler.Scheduler{Interval: cfg.SyncInterval, Runner: s.orchestrator}
	if cfg.SyncInterval > 0 {
		sched.Start(ctx)
	}

	app := httpapi.NewApp(validator, mgr, s.guard)
	mux := httpapi.NewRouter(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(ExitFailure)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", sig.String())

	app.StartShutdown()
	obs.Logger.Info("shutdown_drain_begin",
		"backlog_size", mgr.BacklogSize(),
		"worker_count", mgr.WorkerCount(),
		"cycle_active", s.guard.Active(),
	)

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := mgr.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout")
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	if cfg.SyncInterval > 0 {
		sched.Stop()
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	mgr.Stop()

	if err := s.fm.Logout(context.Background()); err != nil {
		obs.Logger.Warn("filemaker_logout_failed", "error", err)
	}
	obs.Logger.Info("service_stopped")
	return nil
}

var _ scheduler.Runner = (*engine.Orchestrator)(nil)
