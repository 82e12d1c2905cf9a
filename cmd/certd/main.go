// Command certd runs the certificate-lifecycle daemon: the operator HTTP
// API, the durable completion-job worker, and the supporting storage and
// rate-limit backends. All configuration comes from the environment (a
// local .env file is honored); PG_CONN_URL and REDIS_URL select the
// PostgreSQL and Redis backends, and when either is unset the daemon falls
// back to in-memory equivalents suitable for development and sandbox runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/unquietwiki/changerawr-sub002/core/acmeaccount"
	"github.com/unquietwiki/changerawr-sub002/core/certapi"
	"github.com/unquietwiki/changerawr-sub002/core/certjobs"
	"github.com/unquietwiki/changerawr-sub002/core/certstore"
	"github.com/unquietwiki/changerawr-sub002/core/config"
	"github.com/unquietwiki/changerawr-sub002/core/hostguard"
	"github.com/unquietwiki/changerawr-sub002/core/httpserver"
	"github.com/unquietwiki/changerawr-sub002/core/issuance"
	"github.com/unquietwiki/changerawr-sub002/core/keyvault"
	"github.com/unquietwiki/changerawr-sub002/core/logger"
	"github.com/unquietwiki/changerawr-sub002/core/notifier"
	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
	"github.com/unquietwiki/changerawr-sub002/core/renewal"
	"github.com/unquietwiki/changerawr-sub002/integration/database/pg"
	redisint "github.com/unquietwiki/changerawr-sub002/integration/database/redis"
)

type appConfig struct {
	// Sandbox switches issuance to the self-signing driver: no CA
	// traffic, no rate limiting, certificates issued after a short delay.
	Sandbox           bool          `env:"ACME_SANDBOX" envDefault:"false"`
	SandboxIssueDelay time.Duration `env:"SANDBOX_ISSUE_DELAY" envDefault:"3s"`

	// Hex-encoded 32-byte halves of the key-encryption key.
	VaultAppKey   string `env:"VAULT_APP_KEY,required"`
	VaultScopeKey string `env:"VAULT_SCOPE_KEY,required"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("certd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var logCfg logger.Config
	if err := config.Load(&logCfg); err != nil {
		return err
	}
	log := logger.NewFromConfig(logCfg, logger.WithAttr(slog.String("app", "certd")))
	slog.SetDefault(log)

	var appCfg appConfig
	if err := config.Load(&appCfg); err != nil {
		return err
	}

	vault, err := buildVault(appCfg)
	if err != nil {
		return err
	}

	// Storage: PostgreSQL when configured, in-memory otherwise.
	var (
		storage    certstore.Storage
		jobStorage certjobs.Storage
		readiness  []certapi.Option
	)
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return err
	}
	if pgCfg.ConnectionString != "" {
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, log); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}

		storage = pg.NewStorage(pool)
		jobStorage = pg.NewJobStorage(pool)
		readiness = append(readiness, certapi.WithReadinessCheck("postgres", pg.Healthcheck(pool)))
		log.InfoContext(ctx, "using postgresql storage")
	} else {
		storage = certstore.NewMemoryStorage()
		jobStorage = certjobs.NewMemoryStorage()
		log.InfoContext(ctx, "using in-memory storage", slog.String("hint", "set PG_CONN_URL for persistence"))
	}

	// Rate-limit store: Redis when configured, in-memory otherwise.
	var limitStore ratelimit.Store
	var redisCfg redisint.Config
	if err := config.Load(&redisCfg); err != nil {
		return err
	}
	if redisCfg.ConnectionURL != "" {
		client, err := redisint.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()

		limitStore = redisint.NewLimitStore(client)
		readiness = append(readiness, certapi.WithReadinessCheck("redis", redisint.Healthcheck(client)))
		log.InfoContext(ctx, "using redis rate-limit store")
	} else {
		limitStore = ratelimit.NewMemoryStore()
	}

	var rlCfg ratelimit.Config
	if err := config.Load(&rlCfg); err != nil {
		return err
	}
	limiter, err := ratelimit.New(limitStore, rlCfg)
	if err != nil {
		return err
	}

	guard := hostguard.New()

	driver, err := buildDriver(appCfg, storage, vault, log)
	if err != nil {
		return err
	}

	var jobsCfg certjobs.Config
	if err := config.Load(&jobsCfg); err != nil {
		return err
	}
	enqueuer, err := certjobs.NewEnqueuer(jobStorage, jobsCfg.MaxRetries)
	if err != nil {
		return err
	}

	var notifCfg notifier.Config
	if err := config.Load(&notifCfg); err != nil {
		return err
	}
	dispatcher := notifier.NewDispatcher(notifCfg, notifier.WithLogger(log))

	svcOpts := []issuance.Option{
		issuance.WithRateLimiter(limiter),
		issuance.WithNotifier(dispatcher),
		issuance.WithLogger(log),
	}
	if appCfg.Sandbox {
		svcOpts = append(svcOpts, issuance.WithSandbox())
	}
	svc, err := issuance.New(storage, vault, guard, driver, enqueuer, svcOpts...)
	if err != nil {
		return err
	}

	worker, err := certjobs.NewWorkerFromConfig(jobsCfg, jobStorage, svc, certjobs.WithLogger(log))
	if err != nil {
		return err
	}

	var renewCfg renewal.Config
	if err := config.Load(&renewCfg); err != nil {
		return err
	}
	scheduler, err := renewal.New(storage, svc, renewal.WithConfig(renewCfg), renewal.WithLogger(log))
	if err != nil {
		return err
	}

	var apiCfg certapi.Config
	if err := config.Load(&apiCfg); err != nil {
		return err
	}
	apiOpts := append([]certapi.Option{certapi.WithLogger(log)}, readiness...)
	api, err := certapi.New(storage, svc, scheduler, apiCfg, apiOpts...)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	api.Register(e)

	var srvCfg httpserver.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}
	srv, err := httpserver.NewFromConfig(srvCfg)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "certd starting",
		slog.String("addr", srvCfg.Addr),
		slog.Bool("sandbox", appCfg.Sandbox),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(gctx, e))
	g.Go(worker.Run(gctx))

	err = g.Wait()

	// Flush in-flight webhook deliveries before exiting.
	dispatcher.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("certd stopped")
	return nil
}

func buildVault(cfg appConfig) (keyvault.Vault, error) {
	appKey, err := keyvault.ParseKeyHex(cfg.VaultAppKey)
	if err != nil {
		return nil, fmt.Errorf("VAULT_APP_KEY: %w", err)
	}
	scopeKey, err := keyvault.ParseKeyHex(cfg.VaultScopeKey)
	if err != nil {
		return nil, fmt.Errorf("VAULT_SCOPE_KEY: %w", err)
	}
	return keyvault.New(appKey, scopeKey)
}

// buildDriver selects the CA integration: a self-signing sandbox driver,
// or the real ACME driver bound to the singleton account.
func buildDriver(cfg appConfig, storage certstore.Storage, vault keyvault.Vault, log *slog.Logger) (issuance.Driver, error) {
	if cfg.Sandbox {
		return issuance.NewSandboxDriver(cfg.SandboxIssueDelay)
	}

	var acmeCfg acmeaccount.Config
	if err := config.Load(&acmeCfg); err != nil {
		return nil, err
	}
	accounts, err := acmeaccount.New(storage, vault, acmeCfg, acmeaccount.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return issuance.NewCADriver(accounts)
}
