// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-billing/internal/config"
	"subscription-billing/internal/domain/ports/adapter"
	"subscription-billing/internal/infra/adapters/entitlement"
	"subscription-billing/internal/infra/adapters/notify"
	payAdapters "subscription-billing/internal/infra/adapters/payment"
	pg "subscription-billing/internal/infra/db/postgres"
	"subscription-billing/internal/infra/logging"
	"subscription-billing/internal/infra/metrics"
	red "subscription-billing/internal/infra/redis"
	"subscription-billing/internal/infra/sched"
	"subscription-billing/internal/infra/web"
	"subscription-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop provisioning, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	linkRepo := pg.NewPaymentLinkRepo(pool)
	feeConfigRepo := pg.NewFeeConfigRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	tenantRepo := pg.NewTenantRepo(pool)

	// ---- Gateway ----
	gateway, err := payAdapters.NewRazorpayGateway(
		cfg.Gateway.KeyID,
		cfg.Gateway.KeySecret,
		cfg.Gateway.WebhookSecret,
		cfg.Gateway.CallbackURL,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateway")
	}
	gateway.SetRetryPolicy(cfg.Gateway.RetryAttempts, cfg.Gateway.RetryBaseDelay)

	// ---- Notifications ----
	hub := notify.NewHub(logger)
	sinks := notify.Multi{hub}
	if cfg.Telegram.Token != "" && len(cfg.Telegram.AdminChatIDs) > 0 {
		tgSink, err := notify.NewTelegramSink(cfg.Telegram.Token, cfg.Telegram.AdminChatIDs, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram sink disabled")
		} else {
			sinks = append(sinks, tgSink)
		}
	}

	// ---- Entitlement provisioning ----
	var provisioner adapter.EntitlementProvisioner
	if cfg.Runtime.Dev || cfg.Payments.EntitlementURL == "" {
		provisioner = entitlement.NoopProvisioner{}
	} else {
		provisioner = entitlement.NewHTTPProvisioner(cfg.Payments.EntitlementURL, logger)
	}

	// ---- Use cases ----
	feeCalc := usecase.NewFeeCalculator(feeConfigRepo, logger)
	lifecycle := usecase.NewPaymentLifecycle(usecase.Collaborators{
		Links:       linkRepo,
		Plans:       planRepo,
		TenantFees:  tenantRepo,
		Gateway:     gateway,
		Fees:        feeCalc,
		Provisioner: provisioner,
		Notifier:    sinks,
	}, cfg.Payments.PendingTimeout, logger)

	// ---- Stale link reaper ----
	reaper := sched.NewStaleLinkReaper(
		linkRepo,
		sinks,
		locker,
		cfg.Reaper.Interval,
		cfg.Reaper.StaleAfter,
		cfg.Reaper.NotableCount,
		logger,
	)
	reaper.Start(ctx)

	// ---- HTTP server ----
	srv := web.NewServer(lifecycle, reaper, cfg.Server.APIKey, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	reaper.Stop()
	cancel()
}
