package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/api"
	"github.com/hubscan/reconciler-go/cache"
	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/evmchain"
	"github.com/hubscan/reconciler-go/hub"
	"github.com/hubscan/reconciler-go/internal/config"
	"github.com/hubscan/reconciler-go/internal/logger"
	"github.com/hubscan/reconciler-go/metrics"
	"github.com/hubscan/reconciler-go/poll"
	"github.com/hubscan/reconciler-go/price"
	"github.com/hubscan/reconciler-go/transfer"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		chainsFile  = flag.String("chains", "", "Path to the chain registry file (YAML)")
		storeURI    = flag.String("store-uri", "", "MongoDB connection string")
		workers     = flag.Int("workers", 0, "Number of concurrent vote resolvers")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")

		enableAPI = flag.Bool("api", false, "Enable the HTTP API server")
		apiHost   = flag.String("api-host", "", "API server host")
		apiPort   = flag.Int("api-port", 0, "API server port")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("reconciler-go version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *chainsFile, *storeURI, *workers, *logLevel, *logFormat)
	applyAPIFlags(cfg, *enableAPI, *apiHost, *apiPort)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting reconciler",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("chains_file", cfg.Chains.File),
		zap.Int("workers", cfg.Resolver.Workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	chainsCfg, err := cfg.LoadChains()
	if err != nil {
		log.Fatal("Failed to load chain registry", zap.Error(err))
	}
	registry, err := chains.NewRegistry(chainsCfg)
	if err != nil {
		log.Fatal("Failed to build chain registry", zap.Error(err))
	}
	log.Info("Chain registry loaded",
		zap.String("hub", registry.Hub()),
		zap.Int("evm_chains", len(registry.EVMChains())),
		zap.Int("cosmos_chains", len(registry.CosmosChains())),
	)

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open document store", zap.Error(err))
	}
	defer closeStore(store, log)

	var localCache *cache.Cache
	if cfg.Cache.Enabled {
		localCache, err = cache.Open(cfg.Cache.Path, logger.WithComponent(log, "cache"))
		if err != nil {
			log.Fatal("Failed to open local cache", zap.Error(err))
		}
		defer localCache.Close()
	}

	m := metrics.New("reconciler")

	providers, err := evmchain.NewProviders(registry, localCache, logger.WithComponent(log, "evm"))
	if err != nil {
		log.Fatal("Failed to create EVM providers", zap.Error(err))
	}
	defer providers.Close()

	hubLCD, err := hub.NewLCDClient(&hub.LCDConfig{
		Endpoints:         cfg.Hub.LCDEndpoints,
		Timeout:           cfg.Hub.LCDTimeout,
		RequestsPerSecond: cfg.Hub.LCDRequestsPerSecond,
		Logger:            logger.WithComponent(log, "lcd"),
	})
	if err != nil {
		log.Fatal("Failed to create hub LCD client", zap.Error(err))
	}

	cosmosSources, err := cosmosTxSources(registry, cfg, hubLCD, log)
	if err != nil {
		log.Fatal("Failed to create Cosmos LCD clients", zap.Error(err))
	}

	var blocks hub.BlockResults
	if cfg.Hub.RPCEndpoint != "" {
		rpc, err := hub.NewRPCClient(&hub.RPCConfig{
			Endpoint: cfg.Hub.RPCEndpoint,
			Timeout:  cfg.Hub.RPCTimeout,
			Logger:   logger.WithComponent(log, "rpc"),
		})
		if err != nil {
			log.Fatal("Failed to create hub RPC client", zap.Error(err))
		}
		blocks = rpc
	} else {
		log.Warn("No hub RPC endpoint configured, end-of-block confirmations are unavailable")
	}

	var reindexer hub.Reindexer
	if cfg.Hub.ReindexEndpoint != "" {
		reindexer = hub.NewAPIReindexer(cfg.Hub.ReindexEndpoint, cfg.Hub.ReindexTimeout, logger.WithComponent(log, "reindex"))
	}

	var oracle price.Oracle
	if cfg.Price.Endpoint != "" {
		httpOracle, err := price.NewHTTPOracle(cfg.Price.Endpoint, cfg.Price.Timeout, logger.WithComponent(log, "price"))
		if err != nil {
			log.Fatal("Failed to create price oracle", zap.Error(err))
		}
		oracle = price.NewCachedOracle(httpOracle, localCache)
	} else {
		log.Warn("No price endpoint configured, transfers will not be valued")
	}

	fetcher := transfer.NewFetcher(registry, providers, cosmosSources, store, m, logger.WithComponent(log, "fetcher"))
	enricher := transfer.NewEnricher(store, registry, oracle, hubLCD, m, logger.WithComponent(log, "enricher"))
	batches := transfer.NewBatchReconciler(store, registry, providers, m, logger.WithComponent(log, "batches"))
	service := transfer.NewService(store, fetcher, enricher, batches, reindexer, registry, m, logger.WithComponent(log, "transfers"))

	resolver := poll.NewResolver(store, blocks, registry, fetcher, enricher, m, logger.WithComponent(log, "resolver"))
	resolver.SetWorkers(cfg.Resolver.Workers)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiConfig := &api.Config{
			Host:               cfg.API.Host,
			Port:               cfg.API.Port,
			ReadTimeout:        cfg.API.ReadTimeout,
			WriteTimeout:       cfg.API.WriteTimeout,
			IdleTimeout:        cfg.API.IdleTimeout,
			EnableRateLimit:    cfg.API.EnableRateLimit,
			RateLimitPerSecond: cfg.API.RateLimitPerSecond,
			RateLimitBurst:     cfg.API.RateLimitBurst,
		}
		apiServer, err = api.NewServer(apiConfig, logger.WithComponent(log, "api"), service, resolver)
		if err != nil {
			log.Fatal("Failed to create API server", zap.Error(err))
		}

		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()
		log.Info("API server started", zap.String("address", apiConfig.Address()))
	} else {
		log.Info("API server disabled, engine is reachable in-process only")
	}

	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	log.Info("Shutting down gracefully...")
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}

	log.Info("Reconciler stopped")
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(configFile)
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, chainsFile, storeURI string, workers int, logLevel, logFormat string) {
	if chainsFile != "" {
		cfg.Chains.File = chainsFile
	}
	if storeURI != "" {
		cfg.Store.URI = storeURI
	}
	if workers > 0 {
		cfg.Resolver.Workers = workers
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// applyAPIFlags applies API-related command-line flags to configuration
func applyAPIFlags(cfg *config.Config, enableAPI bool, apiHost string, apiPort int) {
	if enableAPI {
		cfg.API.Enabled = true
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
}

// openStore opens the configured document-store backend.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (docstore.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		log.Warn("Using the in-memory store, documents do not survive restarts")
		return docstore.NewMemoryStore(), nil
	default:
		return docstore.NewMongoStore(ctx, &docstore.MongoConfig{
			URI:      cfg.Store.URI,
			Database: cfg.Store.Database,
			Timeout:  cfg.Store.Timeout,
			Logger:   logger.WithComponent(log, "store"),
		})
	}
}

func closeStore(store docstore.Store, log *zap.Logger) {
	closer, ok := store.(interface{ Close(context.Context) error })
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := closer.Close(ctx); err != nil {
		log.Error("Failed to close document store", zap.Error(err))
	}
}

// cosmosTxSources builds one LCD client per queryable counterparty chain,
// reusing the hub client for the hub itself.
func cosmosTxSources(reg *chains.Registry, cfg *config.Config, hubLCD *hub.LCDClient, log *zap.Logger) (map[string]transfer.CosmosTxSource, error) {
	sources := make(map[string]transfer.CosmosTxSource)
	for _, chain := range reg.CosmosChains() {
		if chain.ID == reg.Hub() {
			sources[chain.ID] = hubLCD
			continue
		}
		if len(chain.LCDEndpoints) == 0 {
			log.Warn("Cosmos chain has no LCD endpoints, its sends cannot be reconstructed",
				zap.String("chain", chain.ID))
			continue
		}
		lcd, err := hub.NewLCDClient(&hub.LCDConfig{
			Endpoints:         chain.LCDEndpoints,
			Timeout:           cfg.Hub.LCDTimeout,
			RequestsPerSecond: cfg.Hub.LCDRequestsPerSecond,
			Logger:            logger.WithComponent(log, "lcd-"+chain.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", chain.ID, err)
		}
		sources[chain.ID] = lcd
	}
	return sources, nil
}
