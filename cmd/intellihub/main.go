package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/cache"
	"github.com/tributary-ai/intellihub-router/internal/config"
	"github.com/tributary-ai/intellihub-router/internal/metrics"
	"github.com/tributary-ai/intellihub-router/internal/providers/anthropic"
	"github.com/tributary-ai/intellihub-router/internal/providers/gemini"
	"github.com/tributary-ai/intellihub-router/internal/providers/local"
	"github.com/tributary-ai/intellihub-router/internal/providers/openrouter"
	"github.com/tributary-ai/intellihub-router/internal/providers/perplexity"
	"github.com/tributary-ai/intellihub-router/internal/routing"
	"github.com/tributary-ai/intellihub-router/internal/server"
)

var version = "dev"

const metricsNamespace = "intellihub"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Application represents the main application
type Application struct {
	config *config.Config
	router *routing.Router
	store  cache.Store
	sink   *metrics.Sink
	server *server.Server
	logger *logrus.Logger
}

// NewApplication loads configuration and wires the chain. The HTTP server is
// only built when serve is true.
func NewApplication(configPath string, serve bool) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging, serve); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}
	logger.WithField("providers", cfg.GetEnabledProviders()).Info("Upstreams with credentials")

	store, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	sink := metrics.NewSink(metricsNamespace)
	routerInstance := newRouter(cfg, store, sink, logger)

	app := &Application{
		config: cfg,
		router: routerInstance,
		store:  store,
		sink:   sink,
		logger: logger,
	}

	if serve {
		serverInstance, err := server.NewServer(routerInstance, sink, cfg.ToServerConfig(), logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
		app.server = serverInstance
	}

	return app, nil
}

// newRouter builds every stage of the chain from cfg. Providers without
// credentials are still registered so the health endpoints can report them.
func newRouter(cfg *config.Config, store cache.Store, sink *metrics.Sink, logger *logrus.Logger) *routing.Router {
	executor := openrouter.NewExecutor(&cfg.OpenRouter, sink, logger)

	router := routing.NewRouter(routing.Options{
		Registry:                 routing.NewRegistry(cfg.Models),
		Executor:                 executor,
		Cache:                    store,
		APIKeys:                  cfg.OpenRouter.APIKeys,
		Research:                 perplexity.NewProvider(&cfg.Perplexity, logger),
		Local:                    local.NewProvider(&cfg.Local, logger),
		Gemini:                   gemini.NewClient(&cfg.Gemini, logger),
		Anthropic:                anthropic.NewAnthropicProvider(&cfg.Anthropic, logger),
		DisableSecondaryFallback: cfg.DisableSecondaryFallback,
	}, logger)

	for _, status := range router.Providers() {
		logger.WithFields(logrus.Fields{
			"provider":   status.Name,
			"kind":       status.Kind,
			"configured": status.Configured,
			"detail":     status.Detail,
		}).Info("Provider registered")
	}

	return router
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.WithField("version", version).Info("Starting IntelliHub router")
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// Close releases the cache backend.
func (app *Application) Close() {
	if err := app.store.Close(); err != nil {
		app.logger.WithError(err).Warn("Failed to close response cache")
	}
}

// setupLogger configures the logger based on configuration. One-shot commands
// keep stdout for their result and log to stderr instead.
func setupLogger(logger *logrus.Logger, config config.LoggingConfig, serve bool) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout":
		if serve {
			logger.SetOutput(os.Stdout)
		} else {
			logger.SetOutput(os.Stderr)
		}
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}
