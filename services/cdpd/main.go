package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"stablevault/config"
	"stablevault/observability/logging"
	telemetry "stablevault/observability/otel"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "cdpd.toml", "path to cdpd configuration file (.toml or .yaml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("cdpd: load config: %v", err)
	}
	logger := logging.New(logging.Options{
		Service:    cfg.Service.Name,
		Env:        cfg.Service.Environment,
		Level:      cfg.Service.LogLevel,
		File:       cfg.Service.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	logger.Info("cdpd: configuration loaded", slog.Any("config", cfg.Sanitized()))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Service.Name,
		Version:     version,
		Environment: cfg.Service.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes:  resourceAttributes(cfg),
	})
	if err != nil {
		log.Fatalf("cdpd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		log.Fatalf("cdpd: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		logger.Error("cdpd: stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("cdpd: shutdown complete")
}

// resourceAttributes tags telemetry with the stablecoin and collateral set so
// collectors can tell deployments apart.
func resourceAttributes(cfg config.Config) map[string]string {
	symbols := make([]string, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbols = append(symbols, asset.Symbol)
	}
	return map[string]string{
		"cdp.stablecoin":       cfg.Stablecoin.Symbol,
		"cdp.assets":           strings.Join(symbols, ","),
		"cdp.oracle.min_feeds": strconv.Itoa(cfg.Oracle.MinFeeds),
	}
}
