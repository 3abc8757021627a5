// Command mockpipeline serves deterministic transcribe, translate and
// synthesize endpoints for local development of the relay.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/pipeline"
)

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	sampleRate := flag.Int("sample-rate", audio.DefaultFormat.SampleRate, "Sample rate of synthesized speech")
	apiKey := flag.String("api-key", "", "Require this bearer token when set")
	delay := flag.Duration("delay", 0, "Artificial transcription latency per phrase")
	verbose := flag.Bool("v", false, "Log every request")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	format := audio.Format{SampleRate: *sampleRate, SampleWidth: 2, Channels: 1}
	if err := format.Validate(); err != nil {
		logger.Error("Invalid output format", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stub := pipeline.NewStub(format)
	if *delay > 0 {
		stub.Delay = func([]byte) time.Duration { return *delay }
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           pipeline.NewHandler(stub, stub, stub, format, *apiKey, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Mock pipeline listening",
			slog.String("address", *addr),
			slog.Int("sample_rate", format.SampleRate),
			slog.Duration("delay", *delay))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	logger.Info("Mock pipeline stopped")
}
