// Package main is the entry point for breakerd, the circuit-breaker
// daemon. It loads configuration, wires the breaker registry and prober,
// starts the ops HTTP server, and handles graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dskow/breaker-core/breaker"
	"github.com/dskow/breaker-core/internal/admin"
	"github.com/dskow/breaker-core/internal/auth"
	"github.com/dskow/breaker-core/internal/config"
	"github.com/dskow/breaker-core/internal/health"
	"github.com/dskow/breaker-core/internal/logging"
	"github.com/dskow/breaker-core/internal/metrics"
	"github.com/dskow/breaker-core/internal/middleware"
	"github.com/dskow/breaker-core/internal/probe"
	"github.com/dskow/breaker-core/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "configs/breakerd.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := buildLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"services", len(cfg.Services),
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Breaker registry with a throttled notifier so a flapping service
	// cannot storm the log-based alert sink.
	notifier := breaker.NewThrottled(
		breaker.NewLogNotifier(logger),
		cfg.Breaker.NotifyPerSec,
		cfg.Breaker.NotifyBurst,
	)
	registry := breaker.New(cfg.Breaker.Defaults, notifier, logger)
	defer registry.Close()

	prober := probe.New(registry, logger)
	prober.Start(cfg.Services)
	defer prober.Stop()

	// Ops mux: health, metrics, admin.
	mux := http.NewServeMux()

	healthHandler := health.New(registry, cfg.Services, logger)
	healthHandler.RegisterRoutes(mux)

	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	reloader := config.NewReloader(*configPath, cfg, logger)

	if cfg.Admin.Enabled {
		adminMux := http.NewServeMux()
		adminHandler := admin.New(registry, reloader, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(adminMux)
		mux.Handle("/admin/", auth.Middleware(cfg.Auth, logger)(adminMux))
		logger.Info("admin API registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	// Middleware stack: Recovery -> RequestID -> Logging -> mux
	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		registry.UpdateDefaults(newCfg.Breaker.Defaults)
		prober.UpdateServices(newCfg.Services)
		healthHandler.UpdateServices(newCfg.Services)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()
		srv.TLSConfig = &tls.Config{
			GetCertificate: certLoader.GetCertificate,
			MinVersion:     tlsutil.MinVersion(cfg.Server.TLS.MinVersion),
		}
	}

	go func() {
		logger.Info("starting breakerd", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("breakerd stopped gracefully")
}

// buildLogger constructs the slog JSON logger per the logging config,
// returning a closer when output goes to a rotating file.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer
	var closer io.Closer
	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		rw, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		w = rw
		closer = rw
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}
