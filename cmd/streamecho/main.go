package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpbx/streamecho/internal/api"
	"github.com/flowpbx/streamecho/internal/api/middleware"
	"github.com/flowpbx/streamecho/internal/config"
	"github.com/flowpbx/streamecho/internal/metrics"
	"github.com/flowpbx/streamecho/internal/session"
	"github.com/flowpbx/streamecho/internal/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting streamecho",
		"http_port", cfg.HTTPPort,
		"stream_base_url", cfg.StreamBaseURL,
		"public_base_url", cfg.PublicBaseURL,
		"redirect_delay", cfg.RedirectDelay.String(),
		"tls", cfg.TLSEnabled(),
	)

	ctrl := session.NewController(session.NewRegistry(), session.Options{
		StreamBaseURL:  cfg.StreamBaseURL,
		PublicBaseURL:  cfg.PublicBaseURL,
		SampleRate:     cfg.SampleRate,
		RedirectDelay:  cfg.RedirectDelay,
		RedirectNumber: cfg.RedirectNumber,
	}, logger)

	// Prometheus registry with process and Go runtime collectors.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(ctrl, startTime),
	)

	streamOpts := stream.DefaultOptions()
	streamOpts.QueueSize = cfg.SendQueueSize
	streamOpts.WriteTimeout = cfg.WriteTimeout

	handler := api.NewServer(ctrl, api.Options{
		Stream:      streamOpts,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		CORSOrigins: middleware.ParseCORSOrigins(cfg.CORSOrigins),
		TLSEnabled:  cfg.TLSEnabled(),
		Gatherer:    reg,
	}, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.TLSEnabled())
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		exitCode = 1
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop accepting first. Upgraded streams are hijacked and not tracked by
	// srv.Shutdown, so they are closed and drained afterwards.
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		exitCode = 1
	}

	slog.Info("closing audio streams", "active", ctrl.Count())
	ctrl.Shutdown()
	if err := handler.WaitStreams(ctx); err != nil {
		slog.Error("audio streams did not drain", "error", err)
		exitCode = 1
	}

	slog.Info("streamecho stopped", "uptime", time.Since(startTime).Round(time.Second).String())
	if exitCode != 0 {
		handler.Close()
		os.Exit(exitCode)
	}
}
