package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-access/internal/app"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/pages"
	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/store/memory"
	"github.com/odyssey-erp/odyssey-access/internal/store/postgres"
	"github.com/odyssey-erp/odyssey-access/internal/users"
	"github.com/odyssey-erp/odyssey-access/jobs"
)

type accessStore interface {
	rbac.Store
	rbac.Transactor
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	var (
		store   accessStore
		dbpool  *pgxpool.Pool
		auditor shared.Auditor
	)
	switch cfg.StoreDriver {
	case app.StoreDriverPostgres:
		dbpool, err = db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		pgStore := postgres.New(dbpool)
		if cfg.PGMigrate {
			if err := pgStore.Migrate(ctx); err != nil {
				logger.Error("migrate schema", slog.Any("error", err))
				os.Exit(1)
			}
		}
		store = pgStore
		auditor = shared.NewAuditLogger(dbpool)
	default:
		logger.Warn("using in-memory store, state is lost on restart")
		store = memory.New()
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	evaluatorOpts := []rbac.EvaluatorOption{rbac.WithLogger(logger), rbac.WithDecisionObserver(metrics)}
	var invalidator rbac.Invalidator
	if cfg.AccessCacheEnabled && redisClient != nil {
		accessCache := rbac.NewCache(redisClient, cfg.AccessCacheTTL)
		evaluatorOpts = append(evaluatorOpts, rbac.WithSnapshotCache(accessCache))
		invalidator = accessCache
	}
	evaluator := rbac.NewEvaluator(store, evaluatorOpts...)
	rbacMiddleware := rbac.Middleware{Evaluator: evaluator, Logger: logger}

	var locker shared.Locker = shared.NewLocalLocker()
	if redisClient != nil {
		locker = cache.NewLocker(redisClient, cfg.LockTTL, cfg.LockTTL)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	// Warmup runs in the worker, which only shares state through Postgres.
	var warmer roles.Warmer
	if cfg.WarmupEnabled && redisClient != nil && cfg.StoreDriver == app.StoreDriverPostgres {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		warmer = jobClient
	}

	permissionService := permissions.NewService(store, permissions.Options{
		Logger:         logger,
		Auditor:        auditor,
		Invalidator:    invalidator,
		Transactor:     store,
		AtomicBulk:     cfg.BulkAtomic,
		RestrictDelete: !cfg.CascadeDelete,
	})
	roleService := roles.NewService(store, roles.Options{
		Logger:         logger,
		Auditor:        auditor,
		Invalidator:    invalidator,
		Locker:         locker,
		Warmer:         warmer,
		RestrictDelete: !cfg.CascadeDelete,
	})
	userService := users.NewService(store, users.Options{
		Logger:      logger,
		Auditor:     auditor,
		Invalidator: invalidator,
	})
	pageService := pages.NewService(store, pages.Options{
		Logger:  logger,
		Auditor: auditor,
		Locker:  locker,
	})

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		PermissionsHandler: permissions.NewHandler(logger, permissionService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, roleService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, userService, rbacMiddleware),
		PagesHandler:       pages.NewHandler(logger, pageService, rbacMiddleware),
		AccessHandler:      rbac.NewAccessHandler(logger, evaluator, pageService, rbacMiddleware),
		JobHandler:         jobHandler,
		Metrics:            metrics,
		Ready: func(r *http.Request) error {
			if dbpool != nil {
				if err := dbpool.Ping(r.Context()); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Ping(r.Context()).Err()
			}
			return nil
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
