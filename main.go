package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EstebanCanales/novack-edge/internal/config"
	"github.com/EstebanCanales/novack-edge/internal/handler"
	"github.com/EstebanCanales/novack-edge/internal/logger"
	"github.com/EstebanCanales/novack-edge/internal/middleware"
	"github.com/EstebanCanales/novack-edge/internal/proxy"
	pkgredis "github.com/EstebanCanales/novack-edge/internal/redis"
	"github.com/EstebanCanales/novack-edge/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       "info",
		ServiceName: "novack-edge",
		Development: cfg.IsDevelopment(),
	}
	if cfg.App.Debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting edge gateway...")

	ctx := context.Background()

	telemetryCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if _, err := telemetry.Init(ctx, telemetryCfg); err != nil {
		log.Warn(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	} else if telemetryCfg.Enabled {
		log.Info(fmt.Sprintf("Telemetry initialized (collector: %s)", telemetryCfg.CollectorAddr))
	}
	defer telemetry.Shutdown(ctx)

	// The gateway persists nothing; Redis only backs distributed rate
	// limiting and the /ready probe, and its absence degrades both.
	var redis *pkgredis.Client
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	redis, err = pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		log.Warn("Redis connection failed, rate limiting falls back to local")
		redis = nil
	} else {
		defer redis.Close()
		log.Info("Redis connected")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.OTel.Enabled {
		router.Use(telemetry.TracingMiddleware("novack-edge"))
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS())

	if cfg.RateLimit.Enabled {
		rateLimitConfig := middleware.DefaultRateLimitConfig()
		rateLimitConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rateLimitConfig.BurstSize = cfg.RateLimit.BurstSize
		if redis != nil {
			rateLimitConfig.UseRedis = true
			rateLimitConfig.RedisClient = redis
			log.Info("Rate limiting enabled (Redis-backed, distributed)")
		} else {
			log.Info("Rate limiting enabled (local, non-distributed)")
		}
		router.Use(middleware.RateLimiter(rateLimitConfig))
	} else {
		log.Warn("Rate limiting DISABLED (RATE_LIMIT_ENABLED=false)")
	}

	healthHandler := handler.NewHealthHandler(redis, cfg.Backend.Origin)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.App.Version,
			"service": "novack-edge",
		})
	})

	forwarder, err := proxy.New(proxy.Config{
		BackendOrigin: cfg.Backend.Origin,
		Timeout:       cfg.Backend.Timeout,
	}, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("Failed to configure proxy: %v", err))
	}

	api := router.Group("/api")
	api.Any("/*backendPath", forwarder.Handler())

	log.Info(fmt.Sprintf("Proxy configured: backend=%s timeout=%s", cfg.Backend.Origin, cfg.Backend.Timeout))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info(fmt.Sprintf("Edge gateway listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Give outstanding relays 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("Server exited gracefully")
}
