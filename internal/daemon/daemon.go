// Package daemon assembles rentald: an in-memory registry, a sandbox token
// ledger, metrics and the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	audithook "github.com/xraph/rental/audit_hook"
	"github.com/xraph/rental/internal/config"
	"github.com/xraph/rental/internal/httpapi"
	"github.com/xraph/rental/internal/telemetry"
	"github.com/xraph/rental/observability"
	"github.com/xraph/rental/store/memory"
	tokenmem "github.com/xraph/rental/token/memory"
)

// App is a wired daemon ready to serve.
type App struct {
	Registry *rental.Registry
	Tokens   *tokenmem.Ledger
	Handler  http.Handler
	Metrics  *observability.PrometheusFactory
}

// Build wires the registry and its sandbox token ledger, starts the registry
// and initializes cfg.AssetCount assets.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	ledger := tokenmem.New(
		asset.AccountID(cfg.TokenAccount),
		asset.AccountID(cfg.OwnerAccount),
		decimal.NewFromInt(cfg.OwnerSupply),
		tokenmem.WithLogger(logger),
	)
	if cfg.SeedFunds > 0 {
		if err := ledger.Fund(ctx, asset.AccountID(cfg.SelfAccount), decimal.NewFromInt(cfg.SeedFunds)); err != nil {
			return nil, fmt.Errorf("seed registry account: %w", err)
		}
	}
	for _, acct := range cfg.Registered {
		ledger.Register(asset.AccountID(acct))
	}

	metrics := observability.NewPrometheusFactory(nil)

	opts := []rental.Option{
		rental.WithLogger(logger),
		rental.WithTokenAccount(asset.AccountID(cfg.TokenAccount)),
		rental.WithSelfAccount(asset.AccountID(cfg.SelfAccount)),
		rental.WithReward(cfg.RewardUnits),
		rental.WithPlugin(observability.NewMetricsExtension(metrics)),
		rental.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
	}
	if cfg.RateLimitRPS > 0 {
		opts = append(opts, rental.WithCallerRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	reg := rental.New(memory.New(), ledger, opts...)
	if err := reg.Start(ctx); err != nil {
		return nil, fmt.Errorf("start registry: %w", err)
	}
	if err := reg.Initialize(ctx, cfg.AssetCount); err != nil {
		_ = reg.Stop()
		return nil, fmt.Errorf("initialize registry: %w", err)
	}

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithMetricsHandler(metrics.Handler()),
	}
	if cfg.JWTSecret != "" {
		apiOpts = append(apiOpts, httpapi.WithJWTSecret([]byte(cfg.JWTSecret)))
	}

	return &App{
		Registry: reg,
		Tokens:   ledger,
		Handler:  httpapi.New(reg, ledger, apiOpts...),
		Metrics:  metrics,
	}, nil
}

// Run serves the daemon until ctx is cancelled, then drains HTTP requests and
// stops the registry.
func Run(ctx context.Context, cfg config.Config) error {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rentald listening", "addr", cfg.Addr, "assets", cfg.AssetCount)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = app.Registry.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	return app.Registry.Stop()
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, ev *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"actor", ev.Actor,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"reason", ev.Reason,
		)
		return nil
	}
}
