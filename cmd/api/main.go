package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/dataset"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/processor"
)

func main() {
	log := logger.New()
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env")
	}

	cfg, cfgPath, exists, err := config.Load("")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.WithField("service", "anime-identifier-go").
		WithField("config", cfgPath).
		WithField("config_found", exists).
		Info("starting service")
	if err := cfg.RequireCredentials(); err != nil {
		log.WithError(err).Error("provider credentials incomplete; /process and /demo will reject every run")
	}

	proc, err := processor.Build(cfg, log.Entry)
	if err != nil {
		log.WithError(err).Fatal("failed to build pipeline")
	}

	srv := &server{
		proc:         proc,
		log:          log,
		limiter:      newLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst),
		maxBytes:     int64(cfg.Source.MaxBytes),
		demoManifest: cfg.Server.DemoManifest,
		demoLimit:    cfg.Server.DemoLimit,
		loadManifest: dataset.Load,
	}

	// demo runs samples back to back, so the write deadline scales with the limit
	writeTimeout := cfg.Pipeline.Timeout()*time.Duration(max(cfg.Server.DemoLimit, 1)) + 20*time.Second
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}()

	log.WithField("addr", cfg.Server.Addr).Info("listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	log.Info("server stopped")
}
