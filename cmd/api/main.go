package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fdg312/siwa-relay/internal/config"
	"github.com/fdg312/siwa-relay/internal/httpserver"
	"github.com/fdg312/siwa-relay/internal/logging"
	"github.com/fdg312/siwa-relay/internal/metrics"
	"github.com/fdg312/siwa-relay/internal/tracing"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	printStartupBanner(logger, cfg)
	validateConfig(logger, cfg)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatalw("tracing setup failed", "error", err)
	}

	runErr := httpserver.New(cfg, logger, m).Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warnw("tracing shutdown failed", "error", err)
	}

	if runErr != nil {
		logger.Fatalw("server stopped", "error", runErr)
	}
	logger.Infow("server stopped")
}

// printStartupBanner logs a one-time summary of the resolved configuration.
// Key material is never printed, only whether it is set.
func printStartupBanner(logger *zap.SugaredLogger, cfg *config.Config) {
	logger.Info("========== Sign in with Apple relay ==========")
	logger.Infof("  env              = %s", cfg.Env)
	logger.Infof("  port             = %d", cfg.Port)
	logger.Infof("  log_level        = %s", cfg.LogLevel)
	logger.Infof("  external_url     = %s", cfg.ExternalBaseURL)
	logger.Infof("  android_package  = %s", cfg.AndroidPackage)
	logger.Infof("  cors_origins     = %s", strings.Join(cfg.CORSAllowedOrigins, ","))
	logger.Infof("  metrics          = %t", cfg.MetricsEnabled)
	logger.Infof("  otel_endpoint    = %s", nonEmptyOrDash(cfg.Tracing.Endpoint))

	logger.Info("---- apple ----")
	logger.Infof("  %s", cfg.Apple.DiagnosticsSummary())
	logger.Infof("  callback         = %s", cfg.Apple.RedirectURI)
	logger.Info("==============================================")
}

// validateConfig warns about settings that make some routes fail. None of
// them is fatal: the callback relay works without Apple credentials.
func validateConfig(logger *zap.SugaredLogger, cfg *config.Config) {
	if missing := cfg.Apple.MissingFor(false); len(missing) > 0 {
		logger.Warnf("apple: web sign in is incomplete, missing: %s", strings.Join(missing, ", "))
	}
	if missing := cfg.Apple.MissingFor(true); len(missing) > 0 {
		logger.Warnf("apple: native sign in is incomplete, missing: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(cfg.AndroidPackage) == "" {
		logger.Warn("callback: ANDROID_PACKAGE_IDENTIFIER is empty, callbacks will fail")
	}
	if cfg.IsProduction() && strings.Contains(cfg.Apple.RedirectURI, "localhost") {
		logger.Warnf("apple: redirect URI %s points at localhost in %s", cfg.Apple.RedirectURI, cfg.Env)
	}
}

func nonEmptyOrDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
