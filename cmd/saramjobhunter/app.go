package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/config"
	"github.com/YonghoLee79/saramjobhunter/internal/control"
	"github.com/YonghoLee79/saramjobhunter/internal/discovery"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	chromedrv "github.com/YonghoLee79/saramjobhunter/internal/driver/chromedp"
	"github.com/YonghoLee79/saramjobhunter/internal/driver/static"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
	"github.com/YonghoLee79/saramjobhunter/internal/pipeline"
	"github.com/YonghoLee79/saramjobhunter/internal/publisher"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
	"github.com/YonghoLee79/saramjobhunter/internal/repository/postgres"
	redisrepo "github.com/YonghoLee79/saramjobhunter/internal/repository/redis"
	"github.com/YonghoLee79/saramjobhunter/internal/repository/sqlite"
	"github.com/YonghoLee79/saramjobhunter/internal/session"
	"github.com/YonghoLee79/saramjobhunter/internal/usecase"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	logs   *control.LogBuffer

	store    repository.Store
	lock     repository.RunLock
	relay    pipeline.ProgressObserver
	login    *session.Controller
	runner   *usecase.RunUsecase
	history  *usecase.HistoryUsecase
	settings *usecase.SettingsUsecase
	checks   map[string]func(ctx context.Context) error

	closers []func()
}

// newStoreApp wires only storage, for the maintenance commands.
func newStoreApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, checks: map[string]func(ctx context.Context) error{}}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	a.history = usecase.NewHistoryUsecase(a.store, logger)
	return a, nil
}

// newApp wires the full automation stack.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	logs := control.NewLogBuffer(control.DefaultLogLines)
	logger = logs.Tee(logger)

	a, err := newStoreApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.logs = logs

	a.settings = usecase.NewSettingsUsecase(a.store, domain.Settings{
		Keywords:        cfg.Search.Keywords,
		Location:        cfg.Search.Location,
		JobType:         cfg.Search.JobType,
		MaxApplications: cfg.Search.MaxApplications,
		MaxPages:        cfg.Search.MaxPages,
	}, logger)

	if cfg.Redis.URL != "" {
		if err := a.openRedis(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.RabbitMQ.URL != "" {
		pub, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("Progress events will not be published", zap.Error(err))
		} else {
			a.relay = publisher.NewObserver(pub, logger)
			a.closers = append(a.closers, func() { _ = pub.Close() })
			logger.Info("Connected to RabbitMQ")
		}
	}

	drv, err := openDriver(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	profile := driver.DefaultStealthProfile()
	profile.Headless = cfg.Browser.Headless

	sessCfg := session.DefaultConfig()
	sessCfg.MaxAttempts = cfg.Login.MaxAttempts
	sessCfg.ManualFallback = cfg.Login.ManualFallback
	sessCfg.ManualTimeout = cfg.Login.ManualTimeout
	sessCfg.Selectors = cfg.Selectors.Login
	a.login = session.NewController(drv, profile, sessCfg, governor.RealSleeper{}, func(s session.State) {
		logger.Info("Login state changed", zap.String("state", string(s)))
	}, logger)

	disc := discovery.NewDiscoverer(discovery.Config{
		SearchURL:   discovery.DefaultSearchURL,
		MaxPages:    cfg.Search.MaxPages,
		Listing:     cfg.Selectors.Listing,
		ElementWait: 10 * time.Second,
		PageDelay:   governor.Range{Min: 2 * time.Second, Max: 4 * time.Second},
	}, governor.RealSleeper{}, logger)

	pcfg := pipeline.DefaultConfig()
	pcfg.Selectors = cfg.Selectors.Posting
	pcfg.CooldownDays = cfg.Apply.CooldownDays
	pcfg.StrictConfirmation = cfg.Apply.StrictConfirmation

	a.runner = usecase.NewRunUsecase(a.store, a.login, disc, usecase.RunConfig{
		RetryFailedDay: cfg.Apply.RetryFailedDay,
		ApplyDelay:     governor.Range{Min: cfg.Pacing.MinDelay, Max: cfg.Pacing.MaxDelay},
		Pipeline:       pcfg,
	}, governor.RealSleeper{}, logger)

	return a, nil
}

// newController builds the control surface over the wired run usecase.
func (a *app) newController(base context.Context) *control.Controller {
	return control.NewController(base, a.runner, a.history, control.Options{
		Login:       a.login,
		Lock:        a.lock,
		LockRefresh: redisrepo.DefaultRunLockTTL / 3,
		Relay:       a.relay,
		Logs:        a.logs,
	}, a.logger)
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping PostgreSQL: %w", err)
		}
		store, err := postgres.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return err
		}
		a.store = store
		a.logger.Info("Connected to PostgreSQL")
	default:
		store, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.store = store
		a.logger.Info("Opened SQLite store", zap.String("path", a.cfg.Storage.SQLitePath))
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })
	a.checks["database"] = a.store.Ping
	return nil
}

func (a *app) openRedis(ctx context.Context) error {
	opts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ping Redis: %w", err)
	}
	a.lock = redisrepo.NewRunLock(rdb, 0)
	a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	a.logger.Info("Connected to Redis")
	return nil
}

func openDriver(cfg *config.Config, logger *zap.Logger) (driver.Driver, error) {
	if cfg.Browser.Driver == config.DriverStatic {
		site, err := static.LoadManifest(cfg.Browser.StaticManifest)
		if err != nil {
			return nil, err
		}
		logger.Info("Using scripted site", zap.String("manifest", cfg.Browser.StaticManifest))
		return static.New(site), nil
	}
	return chromedrv.New(cfg.Browser.ChromePath, 0, logger), nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
