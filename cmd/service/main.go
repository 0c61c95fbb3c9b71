package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/field-advisory/internal/app"
	"github.com/kjstillabower/field-advisory/internal/cache"
	"github.com/kjstillabower/field-advisory/internal/config"
	httphandler "github.com/kjstillabower/field-advisory/internal/http"
	"github.com/kjstillabower/field-advisory/internal/lifecycle"
	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
	"github.com/kjstillabower/field-advisory/internal/traffic"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger, os.Stdout)
	if err != nil {
		logger.Fatal("wiring", zap.Error(err))
	}

	state := &lifecycle.State{}
	tracker := traffic.New(nil)
	inFlight := &httphandler.InFlightTracker{}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	healthConfig := &httphandler.HealthConfig{
		Window:               cfg.HealthWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		DegradedMinRuns:      cfg.DegradedMinRuns,
		RateLimitRPS:         cfg.RateLimitRPS,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		CachePing:            a.CachePing,
	}
	handler := httphandler.NewHandler(httphandler.Options{
		Runner:       a.Pipeline,
		Transcriber:  a.OpenAI,
		State:        state,
		Traffic:      tracker,
		HealthConfig: healthConfig,
		RunTimeout:   cfg.RunTimeout,
		Logger:       logger,
	})

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if cfg.WeatherLive() && cfg.WarmInterval > 0 {
		warmer := cache.NewWarmer(a.Forecasts, logger, nil)
		locations := []models.Location{a.Location}
		go func() {
			if err := warmer.WarmPeriodic(warmCtx, locations, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	// Write timeout outlasts a full advisory run so the handler, not the server, reports timeouts.
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, logger, limiter, tracker, inFlight),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RunTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	stopWarming()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := a.Close(); err != nil {
		logger.Error("close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
