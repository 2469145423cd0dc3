package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	dbadapter "github.com/kasuganosora/socialgraph/db"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/scheduler"
	"github.com/kasuganosora/socialgraph/server"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "config/config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" || cfg.Security.JWTSecret == "change-me" {
		logger.Warn("security.jwt_secret is unset or default; tokens can be forged")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:         cfg.Cache.RedisAddr,
		RedisPassword:     cfg.Cache.RedisPassword,
		RedisDB:           cfg.Cache.RedisDB,
		LocalGCInterval:   cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:    cfg.Cache.LocalPubSubBuf,
		NATSURL:           cfg.Realtime.NATSURL,
		NATSMaxReconnects: cfg.Realtime.NATSMaxReconnects,
		NATSReconnectWait: cfg.Realtime.NATSReconnectWait,
		Logger:            logger.Named("pubsub"),
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	if closer, ok := pubsub.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("Cache initialized")

	// ---- Services and routes ----
	app := server.New(cfg, db, c, pubsub, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger.Named("scheduler"))
	defer sched.Stop()
	sched.AddTicker("relationship_stats", cfg.Server.StatsInterval, 10*time.Second, true, app.RefreshRelationshipGauge)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: app.Engine}

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
