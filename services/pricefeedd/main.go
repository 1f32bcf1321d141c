package pricefeedd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"dusd/observability/logging"
	telemetry "dusd/observability/otel"
)

// Main runs the price feeder daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/pricefeedd/config.yaml", "path to pricefeedd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DUSD_ENV"))
	logger := logging.Setup("pricefeedd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "pricefeedd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := NewSubmissionStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open submission store: %w", err)
	}
	defer func() { _ = store.Close() }()

	client := NewNodeClient(cfg.Node.Endpoint, cfg.AuthToken())
	feeder, err := NewFeeder(cfg, store, client, BuildSources(cfg), logger)
	if err != nil {
		return fmt.Errorf("build feeder: %w", err)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := feeder.Run(stopCtx); err != nil && stopCtx.Err() == nil {
		return err
	}
	logger.Info("feeder stopped")
	return nil
}
