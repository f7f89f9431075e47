package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fluxchat/fluxchat/config"
	"github.com/fluxchat/fluxchat/internal/registry"
	"github.com/fluxchat/fluxchat/internal/repositories"
	"github.com/fluxchat/fluxchat/internal/server"
	"github.com/fluxchat/fluxchat/internal/session"
	"github.com/fluxchat/fluxchat/internal/storage"
	"github.com/fluxchat/fluxchat/pkg/logger"
	"github.com/fluxchat/fluxchat/pkg/ratelimit"
	"github.com/fluxchat/fluxchat/pkg/snowflake"
	"github.com/fluxchat/fluxchat/pkg/utils"

	redis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zl.Close()

	utils.SetJWTSecret(cfg.Auth.JWTSecret)
	utils.SetTokenTTL(cfg.Auth.TokenTTL)

	if err := snowflake.SetWorkerID(cfg.Server.WorkerID); err != nil {
		zl.Fatal("invalid worker id", zap.Error(err))
	}

	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns)
	if err != nil {
		zl.Fatal("failed to init postgres", zap.Error(err))
	}

	// Redis is an optional cache layer; the repositories degrade to
	// database-only reads when it is absent.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = storage.InitRedis(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.MinIdleConns)
		if err != nil {
			zl.Warn("redis unavailable, running without cache", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	repos := repositories.NewSet(db, rdb)
	reg := registry.New()

	// Throttling piggybacks on the cache connection; without Redis the
	// limiter stays nil and every request passes.
	var limiter *ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.New(rdb, zl.Logger)
	}

	srv := server.New(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		repos,
		reg,
		session.Config{
			HeartbeatInterval: cfg.Heartbeat.Interval,
			MaxMissed:         cfg.Heartbeat.MaxMissed,
			PresenceInterval:  cfg.Heartbeat.PresenceInterval,
			Limiter:           limiter,
			Rules: ratelimit.Rules{
				LoginPerMinute:    cfg.RateLimit.LoginPerMinute,
				RegisterPerMinute: cfg.RateLimit.RegisterPerMinute,
				MessagesPerMinute: cfg.RateLimit.MessagesPerMinute,
			},
		},
		zl,
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		zl.Info("shutting down")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}
