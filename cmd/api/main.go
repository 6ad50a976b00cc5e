package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/scholarmarket-backend/api/routes"
	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/internal/payouts"
	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/internal/settlement"
	"github.com/angelmondragon/scholarmarket-backend/internal/submissions"
	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/metrics"
	"github.com/angelmondragon/scholarmarket-backend/pkg/migrate"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/scholarmarket-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, db.RetryPolicy{
		Attempts:  cfg.Market.LockAttempts,
		BaseDelay: cfg.Market.LockBaseDelay,
	}, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	policy := lock.Policy{Attempts: cfg.Market.LockAttempts, BaseDelay: cfg.Market.LockBaseDelay}
	var locker lock.Locker = lock.NewLocalLocker(policy)
	if cfg.FeatureFlags.UseRedisLock {
		locker, err = lock.NewRedisLocker(redisClient, policy, cfg.Market.LockTTL)
		if err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	market := metrics.NewMarket(reg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient, locker, ledger.Options{
		AuthorPercent:     cfg.Market.AuthorShare(),
		PlatformAccountID: cfg.Market.PlatformAccountID,
	})
	if err != nil {
		return err
	}
	if _, err := ledgerSvc.EnsureAccount(ctx, cfg.Market.PlatformAccountID, "platform"); err != nil {
		return err
	}

	events := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	works := catalog.NewRepository(dbClient.DB())
	catalogSvc, err := catalog.NewService(works, dbClient, locker, events, ledgerSvc, cfg.Market.AuthorShare(), logg)
	if err != nil {
		return err
	}
	purchaseSvc, err := purchases.NewService(purchases.NewRepository(dbClient.DB()), works, dbClient, locker, ledgerSvc, events, market, logg)
	if err != nil {
		return err
	}
	payoutSvc, err := payouts.NewService(payouts.NewRepository(dbClient.DB()), dbClient, locker, ledgerSvc, events, market, logg)
	if err != nil {
		return err
	}

	sessions, err := submissions.NewRedisStore(redisClient, cfg.Market.SessionTTL)
	if err != nil {
		return err
	}
	submissionSvc, err := submissions.NewService(sessions, catalogSvc, logg)
	if err != nil {
		return err
	}

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.NotificationDedupTTL)
	if err != nil {
		return err
	}
	trigger, err := settlement.NewTextTrigger(purchaseSvc, settlement.Options{
		AdminIDs: cfg.Market.Admins(),
		Keyword:  cfg.Market.SettlementKeyword,
		Guard:    guard,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"redis_lock": cfg.FeatureFlags.UseRedisLock,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:          dbClient,
			Redis:       redisClient,
			Gatherer:    reg,
			Metrics:     market,
			Ledger:      ledgerSvc,
			Catalog:     catalogSvc,
			Purchases:   purchaseSvc,
			Payouts:     payoutSvc,
			Submissions: submissionSvc,
			Trigger:     trigger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
