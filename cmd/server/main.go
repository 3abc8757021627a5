package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Artuar/babelTower/internal/config"
	"github.com/Artuar/babelTower/internal/dispatch"
	"github.com/Artuar/babelTower/internal/metrics"
	"github.com/Artuar/babelTower/internal/pipeline"
	"github.com/Artuar/babelTower/internal/server"
	"github.com/Artuar/babelTower/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "babeltower"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress()),
		slog.String("websocket_path", cfg.Server.WebSocketPath),
		slog.Int("input_sample_rate", cfg.Audio.InputSampleRate),
		slog.Int("output_sample_rate", cfg.Audio.OutputSampleRate),
		slog.Float64("silence_threshold", cfg.Segmenter.SilenceThreshold),
		slog.Float64("silence_duration", cfg.Segmenter.SilenceDuration),
		slog.Int("workers", cfg.Dispatch.Workers),
		slog.String("pipeline_mode", cfg.Pipeline.Mode),
		slog.String("pipeline_endpoint", cfg.Pipeline.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus registry with process and runtime collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	// Pipeline capabilities
	var (
		transcriber   pipeline.Transcriber
		translator    pipeline.Translator
		synthesizer   pipeline.Synthesizer
		pipelineStats func() pipeline.ClientStats
		client        *pipeline.Client
	)
	switch cfg.Pipeline.Mode {
	case "stub":
		stub := pipeline.NewStub(cfg.Audio.OutputFormat())
		transcriber, translator, synthesizer = stub, stub, stub
		logger.Warn("Using stub pipeline capabilities")
	default:
		client, err = pipeline.NewClient(pipeline.ClientConfig{
			BaseURL:       cfg.Pipeline.Endpoint,
			APIKey:        cfg.Pipeline.APIKey,
			Timeout:       cfg.Pipeline.GetTimeoutDuration(),
			MaxRetries:    cfg.Pipeline.MaxRetries,
			MaxConcurrent: cfg.Pipeline.MaxConcurrent,
			RetryBackoff:  cfg.Pipeline.GetRetryBackoff(),
			OutputFormat:  cfg.Audio.OutputFormat(),
		}, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create pipeline client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		transcriber, translator, synthesizer = client, client, client
		pipelineStats = client.GetStats
		logger.Info("Pipeline client initialized", slog.String("endpoint", cfg.Pipeline.Endpoint))
	}

	facade, err := pipeline.NewFacade(transcriber, translator, synthesizer, pipeline.FacadeConfig{
		InputFormat:  cfg.Audio.InputFormat(),
		OutputFormat: cfg.Audio.OutputFormat(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline facade", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Dispatch engine
	engine, err := dispatch.NewEngine(dispatch.EngineConfig{
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		JobTimeout: cfg.Dispatch.GetJobTimeout(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create dispatch engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start dispatch engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessions := session.NewManager(logger, appMetrics)

	srv, err := server.NewServer(cfg, server.Dependencies{
		Sessions:      sessions,
		Engine:        engine,
		Facade:        facade,
		Metrics:       appMetrics,
		Gatherer:      registry,
		PipelineStats: pipelineStats,
	}, logger)
	if err != nil {
		logger.Error("Failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", srv.Addr()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting connections and close the open ones first so no new
	// phrases are submitted
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping server", slog.String("error", err.Error()))
	}

	engine.Stop()

	if client != nil {
		client.Close()
	}

	stats := engine.GetStats()
	logger.Info("Final dispatch statistics",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("discarded", stats.Discarded),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level: level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
} 