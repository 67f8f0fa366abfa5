package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/cache"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/crypto"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/database"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/directory"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/handlers"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/middleware"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("embedded_path", cfg.Storage.EmbeddedPath),
		zap.String("directory", cfg.Directory.Path),
		zap.String("redis", cfg.Redis.Host),
		zap.Int("pool_max_conns", cfg.Datasource.PoolMaxConns),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := directory.Load(cfg.Directory.Path)
	if err != nil {
		logger.Fatal("Failed to load directory", zap.Error(err))
	}

	pools := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:      cfg.Datasource.PoolTTLMinutes,
		PoolMaxConns:    cfg.Datasource.PoolMaxConns,
		PoolMinIdle:     cfg.Datasource.PoolMinIdle,
		IdleTimeout:     cfg.Datasource.IdleTimeout,
		MaxLifetime:     cfg.Datasource.MaxLifetime,
		ValidationQuery: cfg.Datasource.ValidationQuery,
	}, logger)

	rdb, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("error", logging.SanitizeError(err)))
	}
	var results cache.ResultCache = cache.NewMemory()
	if rdb != nil {
		results = cache.NewRedis(rdb, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		logger.Info("Result cache backed by Redis", zap.String("addr", cfg.Redis.RedisAddr()))
	}

	var passwords *crypto.PasswordSealer
	if cfg.Credentials.Key != "" {
		if passwords, err = crypto.NewPasswordSealer(cfg.Credentials.Key); err != nil {
			logger.Fatal("Failed to initialize password sealing", zap.Error(err))
		}
	}

	connections := services.NewConnectionRegistry(cfg.DefaultConnection, cfg.Storage, dir, pools, passwords, logger)
	configurations := services.NewConfigurationRegistry(connections, results, cfg.Cache.Paths, logger)
	executor := services.NewExecutor(connections, configurations, services.ExecutorOptions{
		ScreenInjection: cfg.Executor.ScreenInjection,
		AuditWrites:     cfg.Executor.AuditWrites,
	}, logger)
	system := services.NewSystemService(executor, configurations, connections, logger)

	if err := connections.Init(ctx); err != nil {
		logger.Fatal("Failed to initialize connections", zap.String("error", logging.SanitizeError(err)))
	}
	if err := configurations.Init(ctx); err != nil {
		logger.Fatal("Failed to initialize configurations", zap.String("error", logging.SanitizeError(err)))
	}
	logRegistries(logger, connections, configurations)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, connections, configurations, logger).RegisterRoutes(mux)
	handlers.NewSystemHandler(system, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting ekaya-dataservices", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	connections.Destroy()
	if err := pools.Close(); err != nil {
		logger.Error("Failed to close pools", zap.Error(err))
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	logger.Info("Shutdown complete")
}

func logRegistries(logger *zap.Logger, connections *services.ConnectionRegistry, configurations *services.ConfigurationRegistry) {
	for _, conn := range connections.All() {
		logger.Info("Connection registered", zap.Stringer("connection", conn), zap.Bool("valid", conn.IsValid()))
	}
	for _, cfg := range configurations.All() {
		logger.Info("Configuration registered",
			zap.String("path", cfg.Path),
			zap.String("connection", cfg.ConnectionName),
			zap.Bool("cached", cfg.Cached),
		)
	}

	entries := configurations.SysRegEntries()
	codes := make([]string, 0, len(entries))
	for code := range entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		logger.Info("System registry", zap.String("code", code), zap.String("value", entries[code]))
	}
}
