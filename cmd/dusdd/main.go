package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dusd/config"
	"dusd/core"
	"dusd/observability/logging"
	telemetry "dusd/observability/otel"
	"dusd/rpc"
	"dusd/storage"
)

const (
	genesisPathEnv      = "DUSD_GENESIS"
	allowAutogenesisEnv = "DUSD_ALLOW_AUTOGENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides DUSD_GENESIS and config GenesisFile)")
	allowAutogenesisFlag := flag.Bool("allow-autogenesis", false, "DEV ONLY: bootstrap a fresh database from the config registry when no genesis file exists")
	flag.Parse()

	allowAutogenesisCLISet := flagWasProvided("allow-autogenesis")

	env := strings.TrimSpace(os.Getenv("DUSD_ENV"))
	logger := logging.Setup("dusdd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	allowAutogenesis, err := resolveAllowAutogenesis(allowAutogenesisCLISet, *allowAutogenesisFlag, os.LookupEnv)
	if err != nil {
		logger.Error("Failed to resolve autogenesis setting", slog.Any("error", err))
		os.Exit(1)
	}

	genesisPath, err := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, allowAutogenesis, os.LookupEnv)
	if err != nil {
		logger.Error("Failed to resolve genesis path", slog.Any("error", err))
		os.Exit(1)
	}

	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		serviceName := strings.TrimSpace(cfg.Telemetry.ServiceName)
		if serviceName == "" {
			serviceName = "dusdd"
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: serviceName,
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    cfg.Telemetry.OTLPInsecure,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(ctx)
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	genesisSpec, err := resolveGenesisSpec(genesisPath, allowAutogenesis, cfg)
	if err != nil {
		logger.Error("Failed to load genesis", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(db, genesisSpec, core.NodeConfig{
		StalenessTimeout: cfg.Oracle.Timeout(),
		PausedModules:    cfg.Pauses.Modules(),
	})
	if err != nil {
		logger.Error("Failed to create node", slog.Any("error", err))
		os.Exit(1)
	}

	rpcServer, err := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:          cfg.RPC.AuthToken,
		JWTSecret:          cfg.RPC.JWTSecret,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
	})
	if err != nil {
		logger.Error("Failed to initialise RPC server", slog.Any("error", err))
		os.Exit(1)
	}

	if token := strings.TrimSpace(cfg.RPC.AuthToken); token != "" {
		logger.Info("RPC bearer auth enabled", logging.MaskField("auth_token", token))
	} else if secret := strings.TrimSpace(cfg.RPC.JWTSecret); secret != "" {
		logger.Info("RPC JWT auth enabled", logging.MaskField("jwt_secret", secret))
	} else {
		logger.Warn("RPC auth disabled; mutating methods accept unauthenticated calls")
	}

	// No blanket write timeout: /ws/events holds connections open and paces
	// its own frame deadlines.
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpcServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("dusdd node initialised and running",
			slog.String("address", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName),
			slog.String("staleness_timeout", node.StalenessTimeout().String()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			logger.Error("Forced RPC shutdown", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath prefers the CLI flag, then DUSD_GENESIS, then the config
// file entry. An empty result is only acceptable when autogenesis is allowed.
func resolveGenesisPath(cliPath string, cfgPath string, allowAutogenesis bool, lookup envLookupFunc) (string, error) {
	trimmedCLI := strings.TrimSpace(cliPath)
	if trimmedCLI != "" {
		return trimmedCLI, nil
	}

	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			trimmedEnv := strings.TrimSpace(value)
			if trimmedEnv != "" {
				return trimmedEnv, nil
			}
		}
	}

	trimmedCfg := strings.TrimSpace(cfgPath)
	if trimmedCfg != "" {
		return trimmedCfg, nil
	}

	if allowAutogenesis {
		return "", nil
	}

	return "", fmt.Errorf("no genesis file provided; supply one via --genesis, %s, or config, or explicitly enable autogenesis (--allow-autogenesis / %s)", genesisPathEnv, allowAutogenesisEnv)
}

func resolveAllowAutogenesis(cliSet bool, cliValue bool, lookup envLookupFunc) (bool, error) {
	allow := false

	if lookup != nil {
		if value, ok := lookup(allowAutogenesisEnv); ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				parsed, err := strconv.ParseBool(trimmed)
				if err != nil {
					return false, fmt.Errorf("invalid %s value %q: %w", allowAutogenesisEnv, trimmed, err)
				}
				allow = parsed
			}
		}
	}

	if cliSet {
		allow = cliValue
	}

	return allow, nil
}

// resolveGenesisSpec loads the genesis document when a path is known. With
// autogenesis the config registry stands in; an empty registry falls back to
// the built-in default document.
func resolveGenesisSpec(genesisPath string, allowAutogenesis bool, cfg *config.Config) (*core.GenesisSpec, error) {
	if genesisPath != "" {
		return core.LoadGenesis(genesisPath)
	}
	if !allowAutogenesis {
		return nil, nil
	}
	if len(cfg.Vault.Assets) == 0 {
		return core.DefaultGenesis(), nil
	}
	if len(cfg.Vault.Assets) != len(cfg.Vault.Feeds) {
		return nil, fmt.Errorf("config Vault.Assets and Vault.Feeds must pair up")
	}
	spec := &core.GenesisSpec{Assets: make([]core.GenesisAsset, len(cfg.Vault.Assets))}
	for i := range cfg.Vault.Assets {
		spec.Assets[i] = core.GenesisAsset{Symbol: cfg.Vault.Assets[i], Feed: cfg.Vault.Feeds[i]}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func flagWasProvided(name string) bool {
	provided := false
	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == name {
			provided = true
		}
	})
	return provided
}
