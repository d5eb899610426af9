package main

/*****************************************************************************
 * Go 1.21
 *
 * main.go - Entry point for the workout session engine daemon: initializes
 *           structured logging, configuration, Prometheus metrics, MQTT
 *           ingestion, TimescaleDB-backed persistence, the session manager,
 *           and the HTTP/WebSocket command API, then runs until shutdown.
 *
 * This file is responsible for:
 *   1. Initializing structured logging (zap).
 *   2. Loading and validating all service configuration (config.Load).
 *   3. Setting up Prometheus metrics collection.
 *   4. Connecting to TimescaleDB behind a circuit breaker.
 *   5. Constructing the session manager and MQTT client.
 *   6. Building an HTTP server with Gin: command API, WebSocket stream,
 *      health check, and metrics endpoint.
 *   7. Managing graceful shutdown on system signals.
 *****************************************************************************/

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/config"
	"github.com/dogwalking/workout-engine/internal/handlers"
	appmetrics "github.com/dogwalking/workout-engine/internal/metrics"
	"github.com/dogwalking/workout-engine/internal/mqttutil"
	"github.com/dogwalking/workout-engine/internal/repository"
	"github.com/dogwalking/workout-engine/internal/services"
)

// defaultGracefulTimeout bounds how long shutdown waits for in-flight
// requests and connections to drain.
const defaultGracefulTimeout = 30 * time.Second

/*****************************************************************************
 * setupMetrics - Registers the Prometheus registry and collector set.
 *****************************************************************************/

func setupMetrics() (*prometheus.Registry, *appmetrics.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	collector := appmetrics.NewCollector(registry)
	return registry, collector
}

/*****************************************************************************
 * setupRouter - Configures the Gin router with the command API, WebSocket
 *               endpoint, health check, and metrics endpoint.
 *****************************************************************************/

func setupRouter(httpHandler *handlers.HTTPHandler, registry *prometheus.Registry, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	httpHandler.RegisterRoutes(router, cfg.Service.RateLimitPerSecond, cfg.Service.RateLimitBurst)

	return router
}

/*****************************************************************************
 * gracefulShutdown - Stops the HTTP server and releases persistence/MQTT
 *                    resources within defaultGracefulTimeout.
 *****************************************************************************/

func gracefulShutdown(server *http.Server, repo *repository.TimescaleRepository, mqttClient *mqttutil.Client, ws *handlers.WebSocketHandler, logger *zap.Logger) {
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	ws.Shutdown()

	if err := server.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error("http server shutdown encountered an error", zap.Error(err))
	}

	mqttClient.Disconnect(250)
	repo.Close()

	logger.Sync()
	logger.Info("graceful shutdown completed")
}

/*****************************************************************************
 * main - Entry point function that initializes and runs the daemon.
 *****************************************************************************/

func main() {
	// 1. Initialize structured logging with zap.
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting workout session engine")

	// 2. Load and validate service configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// 3. Set up Prometheus metrics collectors.
	registry, collector := setupMetrics()

	// 4. Connect to TimescaleDB behind a circuit breaker; this is the
	//    engine's BlobStore implementation.
	ctx := context.Background()
	repo, err := repository.NewTimescaleRepository(ctx, cfg.Database.DSN(), "public", logger, repository.RetentionConfig{
		Enabled: true,
		MaxAge:  90 * 24 * time.Hour,
	})
	if err != nil {
		logger.Fatal("failed to initialize timescaledb repository", zap.Error(err))
	}

	// 5. Construct the session manager and MQTT client.
	manager := services.NewManager(repo, repo, logger, collector, cfg.Service.MaxConcurrentSessions)

	mqttClient, err := mqttutil.NewClient(cfg.MQTT, manager, logger)
	if err != nil {
		logger.Fatal("failed to initialize mqtt client", zap.Error(err))
	}

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	go manager.RunBackgroundTicker(backgroundCtx, time.Second)
	go manager.RunRoutePruneTicker(backgroundCtx, 6*time.Hour)

	// 6. Configure the HTTP router: command API, WebSocket stream, health,
	//    and metrics.
	wsHandler := handlers.NewWebSocketHandler(manager, logger)
	httpHandler := handlers.NewHTTPHandler(manager, wsHandler, mqttClient, logger)
	router := setupRouter(httpHandler, registry, cfg)

	addr := fmt.Sprintf(":%d", cfg.Service.HTTPPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// 7. Initialize signal handlers for graceful termination.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("http server listening", zap.String("address", addr))
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Fatal("http server listen error", zap.Error(srvErr))
		}
	}()

	sig := <-quit
	logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))
	cancelBackground()
	gracefulShutdown(server, repo, mqttClient, wsHandler, logger)
}
