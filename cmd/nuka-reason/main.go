package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-reason/internal/api"
	"github.com/nidhogg/nuka-reason/internal/config"
	"github.com/nidhogg/nuka-reason/internal/provider"
	"github.com/nidhogg/nuka-reason/internal/reasoning"
	"github.com/nidhogg/nuka-reason/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/nuka-reason.json"
	}
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil && !errors.Is(cfgErr, fs.ErrNotExist) {
		boot, _ := zap.NewDevelopment()
		boot.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(cfgErr))
	}
	if cfg == nil {
		cfg = config.Defaults()
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting Nuka Reason...")
	if cfgErr != nil {
		logger.Warn("config file not found, using defaults", zap.String("path", cfgPath))
	} else {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: pc.Timeout.Std(),
		}
		switch strings.ToLower(pc.Type) {
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		}
	}
	if cfg.Reasoning.PathAProvider != "" {
		router.Bind(reasoning.PathA, cfg.Reasoning.PathAProvider)
	}
	if cfg.Reasoning.PathBProvider != "" {
		router.Bind(reasoning.PathB, cfg.Reasoning.PathBProvider)
	}
	if len(cfg.Reasoning.Fallbacks) > 0 {
		router.SetFallbacks(reasoning.PathA, cfg.Reasoning.Fallbacks)
		router.SetFallbacks(reasoning.PathB, cfg.Reasoning.Fallbacks)
	}
	if len(cfg.Providers) == 0 {
		logger.Warn("no providers configured, reasoning requests will fail")
	}

	// Initialize telemetry sinks
	sinks := telemetry.Fanout{telemetry.NewZapSink(logger.Named("telemetry"))}
	var metricsHandler http.Handler
	if cfg.Telemetry.Prometheus {
		promSink, err := telemetry.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			logger.Fatal("failed to register metrics", zap.Error(err))
		}
		sinks = append(sinks, promSink)
		metricsHandler = promhttp.Handler()
	}
	var redisSink *telemetry.RedisSink
	if cfg.Telemetry.RedisURL != "" {
		rs, err := telemetry.NewRedisSink(cfg.Telemetry.RedisURL, cfg.Telemetry.RedisStream, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
		} else {
			redisSink = rs
			sinks = append(sinks, rs)
			logger.Info("Publishing reasoning events", zap.String("stream", cfg.Telemetry.RedisStream))
		}
	}

	// Initialize reasoning engine
	execOpts := []reasoning.Option{reasoning.WithSink(sinks)}
	if limit := cfg.Reasoning.MaxAttempts; limit > 1 {
		execOpts = append(execOpts, reasoning.WithRetryPolicy(reasoning.RetryFunc(func(attempt int, _ reasoning.Verdict) bool {
			return attempt < limit
		})))
	}
	exec := reasoning.NewExecutor(logger, execOpts...)
	dual, err := reasoning.NewDualPathReasoner(exec, logger, reasoning.WithThreshold(cfg.Reasoning.ConsensusThreshold))
	if err != nil {
		logger.Fatal("failed to build dual path reasoner", zap.Error(err))
	}
	gen := provider.NewGenerator(router, logger,
		provider.WithModel(cfg.Reasoning.DefaultModel),
		provider.WithMaxTokens(cfg.Reasoning.MaxTokens),
		provider.WithTemperature(cfg.Reasoning.Temperature),
	)

	// Build HTTP handler
	handler := api.NewHandler(exec, dual, gen, logger,
		api.WithMetrics(metricsHandler),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Nuka Reason listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Nuka Reason...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if redisSink != nil {
		redisSink.Close()
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
