package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mcncl/log-request-id/internal/config"
	"github.com/mcncl/log-request-id/internal/errors"
	"github.com/mcncl/log-request-id/internal/logging"
	"github.com/mcncl/log-request-id/internal/metrics"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "Log format (json, text, dev)")
	flag.Parse()

	// Flags only override the configuration when given explicitly
	override := &config.Config{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			override.Server.LogLevel = *logLevel
		case "log-format":
			override.Server.LogFormat = *logFormat
		}
	})

	cfg, err := config.Load(*configFile, override)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", errors.Format(err))
		os.Exit(1)
	}

	logger, closeLog := initLogger(cfg)
	defer closeLog()

	logger.WithField("config", cfg.String()).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		closeLog()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts down gracefully
func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.InitMetrics(reg); err != nil {
		return errors.Wrap(err, "failed to initialize metrics")
	}

	a, err := newApp(ctx, cfg, logger, reg, dependencies{})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "HTTP server error")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		a.health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		a.Close(shutdownCtx)
		if err != nil {
			return errors.Wrap(err, "HTTP server shutdown error")
		}
		return nil
	})

	a.health.SetReady(true)

	err = g.Wait()
	logger.Info("Server shutdown complete")
	return err
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if d := cfg.Server.RequestTimeout.Std(); d > 0 {
		return d
	}
	return 30 * time.Second
}

// initLogger creates the structured logger and installs it as the fallback
// for code that logs without a request context
func initLogger(cfg *config.Config) (logging.Logger, func()) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.Server.LogFile != "" {
		f := logging.OpenFile(cfg.Server.LogFile, 100, 5, 28)
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	logger := logging.NewLogger(logging.Config{
		Output:      out,
		Level:       logging.ParseLevel(cfg.Server.LogLevel),
		Format:      logging.ParseFormat(cfg.Server.LogFormat),
		AppName:     serviceName,
		Hostname:    hostname,
		NoRequestID: cfg.Correlation.NoRequestID,
		LogUserID:   cfg.Correlation.LogUserID,
		NoUserID:    cfg.Correlation.NoUserID,
	})
	logging.SetDefault(logger)
	return logger, closeFn
}
