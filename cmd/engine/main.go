// Package main is the entrypoint for the BidFlow engine.
//
// The engine runs in two modes. Without flags it is a long-lived daemon:
// a cron scheduler fires the daily collection run and the frequent report
// processing pass, while a small HTTP server exposes health and readiness
// endpoints. With --test, --collect or --process it performs a single
// action and exits, which is how operators verify connectivity and replay
// runs by hand.
//
// This file handles dependency wiring and delegates all business logic to
// the internal packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"bidflow/internal/alert"
	"bidflow/internal/amazon"
	"bidflow/internal/collector"
	"bidflow/internal/config"
	"bidflow/internal/core"
	"bidflow/internal/db"
	"bidflow/internal/processor"
	"bidflow/internal/retry"
	"bidflow/internal/types"
)

func main() {
	testMode := flag.Bool("test", false, "verify database and configuration, then exit")
	collectMode := flag.Bool("collect", false, "run one collection pass for today's tenants, then exit")
	processMode := flag.Bool("process", false, "run one report processing pass, then exit")
	flag.Parse()

	if err := run(*testMode, *collectMode, *processMode); err != nil {
		slog.Error("engine terminated", "error", err)
		os.Exit(1)
	}
}

func run(testMode, collectMode, processMode bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	eng := newEngine(cfg, pool, logger)

	switch {
	case testMode:
		return eng.selfTest(ctx)
	case collectMode:
		return eng.runner.Run(ctx)
	case processMode:
		return eng.runProcessorPass(ctx)
	default:
		return eng.daemon(ctx)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// engine holds the wired application graph.
type engine struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	logger *slog.Logger

	credentials *db.CredentialRepository
	vault       *db.VaultRepository
	ledger      *db.LedgerRepository
	snapshots   *db.SnapshotRepository
	staging     *db.StagingReportRepository
	syncer      *db.SyncRepository
	alerter     *alert.Notifier
	runner      *collector.DailyRunner

	clientDeps amazon.Deps
}

func newEngine(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *engine {
	retrier := retry.New(retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Multiplier: cfg.Retry.BackoffMultiplier,
	}, logger)

	clientDeps := amazon.Deps{
		HTTPClient:           &http.Client{Timeout: cfg.Amazon.APITimeout},
		DownloadClient:       &http.Client{Timeout: cfg.Amazon.DownloadTimeout},
		Retrier:              retrier,
		Tokens:               amazon.NewTokenCache(),
		Clock:                types.RealClock{},
		Logger:               logger,
		OAuthURL:             cfg.Amazon.OAuthURL,
		APIBaseURL:           cfg.Amazon.APIBaseURL,
		FallbackClientID:     cfg.Amazon.ClientID,
		FallbackClientSecret: cfg.Amazon.ClientSecret,
		PageDelay:            cfg.RateLimit.APIDelay,
	}

	eng := &engine{
		cfg:         cfg,
		pool:        pool,
		logger:      logger,
		credentials: db.NewCredentialRepository(pool),
		vault:       db.NewVaultRepository(pool),
		ledger:      db.NewLedgerRepository(pool),
		snapshots:   db.NewSnapshotRepository(pool),
		staging:     db.NewStagingReportRepository(pool),
		syncer:      db.NewSyncRepository(pool),
		alerter:     alert.NewNotifier(cfg.Alert.WebhookURL, nil, logger),
		clientDeps:  clientDeps,
	}

	coll := collector.NewCollector(
		eng.newCollectorClient,
		eng.snapshots,
		db.NewPortfolioRepository(pool),
		db.NewCampaignRepository(pool),
		eng.ledger,
		types.RealClock{},
		logger,
	)
	eng.runner = collector.NewDailyRunner(
		eng.credentials,
		eng.vault,
		coll,
		db.NewSchedulerLogRepository(pool),
		eng.alerter,
		types.RealClock{},
		logger,
		cfg.RateLimit.TenantDelay,
	)
	return eng
}

func (e *engine) newClient(cred types.TenantCredential, secrets types.TenantSecrets) *amazon.Client {
	return amazon.NewClient(amazon.ClientConfig{
		ProfileID:    cred.ProfileID,
		RefreshToken: secrets.RefreshToken,
		ClientID:     secrets.ClientID,
		ClientSecret: secrets.ClientSecret,
	}, e.clientDeps)
}

func (e *engine) newCollectorClient(cred types.TenantCredential, secrets types.TenantSecrets) collector.APIClient {
	return e.newClient(cred, secrets)
}

// runProcessorPass builds a fresh per-pass client cache and drains the
// pending ledger once.
func (e *engine) runProcessorPass(ctx context.Context) error {
	cache := processor.NewTenantClientCache(e.credentials, e.vault,
		func(cred types.TenantCredential, secrets types.TenantSecrets) processor.ReportClient {
			return e.newClient(cred, secrets)
		})

	proc := processor.NewProcessor(
		cache,
		e.ledger,
		e.snapshots,
		e.staging,
		e.syncer,
		e.alerter,
		types.RealClock{},
		e.logger,
		e.cfg.Processor.MaxReportAge,
		e.cfg.Processor.DownloadURLTTL,
		e.cfg.RateLimit.APIDelay,
	)
	return proc.Process(ctx)
}

// selfTest verifies the pieces an operator cares about before a deploy:
// database connectivity, vault function reachability and configuration.
func (e *engine) selfTest(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	e.logger.Info("database connection ok")

	today := int(time.Now().UTC().Weekday())
	creds, err := e.credentials.ListScheduled(ctx, today)
	if err != nil {
		return fmt.Errorf("listing scheduled credentials: %w", err)
	}
	e.logger.Info("credential query ok", "scheduled_today", len(creds))

	e.logger.Info("configuration ok",
		"environment", e.cfg.Environment,
		"collection_cron", e.cfg.Cron.Collection,
		"processor_cron", e.cfg.Cron.Processor,
		"alerting_enabled", e.cfg.Alert.WebhookURL != "",
	)
	return nil
}

// cronLogger adapts slog to the cron logger interface so skipped
// overlapping runs show up in the structured log.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

// newScheduler builds the job scheduler. Schedules are interpreted in UTC
// and a job still running when its next firing comes due is skipped, so at
// most one collection run and one processing pass execute at a time within
// the process.
func newScheduler(logger *slog.Logger) *cron.Cron {
	return cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{l: logger})),
	)
}

// daemon runs the cron scheduler and the health server until a signal
// arrives, then shuts both down.
func (e *engine) daemon(ctx context.Context) error {
	scheduler := newScheduler(e.logger)

	if _, err := scheduler.AddFunc(e.cfg.Cron.Collection, func() {
		if err := e.runner.Run(ctx); err != nil {
			e.logger.Error("scheduled collection run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("registering collection schedule %q: %w", e.cfg.Cron.Collection, err)
	}

	if _, err := scheduler.AddFunc(e.cfg.Cron.Processor, func() {
		if err := e.runProcessorPass(ctx); err != nil {
			e.logger.Error("scheduled processing pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("registering processor schedule %q: %w", e.cfg.Cron.Processor, err)
	}

	health := core.NewHealthServer([]core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: e.pool.Ping},
	}, types.RealClock{}, e.logger)

	e.logger.Info("engine daemon starting",
		"collection_cron", e.cfg.Cron.Collection,
		"processor_cron", e.cfg.Cron.Processor,
		"health_port", e.cfg.Health.Port,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Serve(gctx, ":"+e.cfg.Health.Port)
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		stopCtx := scheduler.Stop()
		// Let an in-flight job finish before returning.
		<-stopCtx.Done()
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		e.logger.Info("engine daemon stopped")
		return nil
	}
	return err
}
