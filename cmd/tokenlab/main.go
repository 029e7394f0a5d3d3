// Command tokenlab resolves EVM token metadata.
//
// Modes:
//   - serve:   HTTP API over the resolver (default)
//   - resolve: resolve -addresses on -chain and print the mapping as JSON
//   - logs:    resolve every token referenced by logs in -from-block..-to-block
//     on -chain, checkpointing each block window (-resume continues a scan)
//   - migrate: apply the embedded schema for the configured store backend
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"evm-token-lab/internal/address"
	"evm-token-lab/internal/api"
	"evm-token-lab/internal/chain"
	"evm-token-lab/internal/config"
	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/logging"
	"evm-token-lab/internal/logs"
	"evm-token-lab/internal/observability"
	"evm-token-lab/internal/retry"
	"evm-token-lab/internal/storage"
	chstore "evm-token-lab/internal/storage/clickhouse"
	"evm-token-lab/internal/storage/memory"
	"evm-token-lab/internal/storage/migrations"
	pgstore "evm-token-lab/internal/storage/postgres"
	redisstore "evm-token-lab/internal/storage/redis"
	"evm-token-lab/internal/tokens"
)

type options struct {
	mode      string
	chain     int64
	addresses string
	partial   bool
	fromBlock uint64
	toBlock   uint64
	resume    bool
}

func main() {
	loadEnvFile()

	configPath := flag.String("config", os.Getenv("TOKENLAB_CONFIG"), "Path to YAML config file")
	var opts options
	flag.StringVar(&opts.mode, "mode", "serve", "Mode: serve, resolve, logs, migrate")
	flag.Int64Var(&opts.chain, "chain", 1, "Chain ID for resolve and logs modes")
	flag.StringVar(&opts.addresses, "addresses", "", "Comma-separated token addresses (resolve mode)")
	flag.BoolVar(&opts.partial, "partial", false, "Report unresolvable addresses instead of failing (resolve mode)")
	flag.Uint64Var(&opts.fromBlock, "from-block", 0, "First block (logs mode)")
	flag.Uint64Var(&opts.toBlock, "to-block", 0, "Last block (logs mode)")
	flag.BoolVar(&opts.resume, "resume", false, "Continue after the stored scan checkpoint (logs mode)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case <-sigCh:
			logger.Warn("received second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, opts, logger)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tokenlab failed", zap.String("mode", opts.mode), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	if opts.mode == "migrate" {
		return migrate(ctx, cfg, logger)
	}

	metrics := observability.NewMetrics(observability.DefaultNamespace, prometheus.DefaultRegisterer)

	st, err := createStores(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := chain.NewRegistry(cfg.Endpoints(), logger)
	defer registry.Close()

	fetcher := chain.NewEVMFetcher(chain.FetcherOptions{
		Callers: registry,
		Timeout: cfg.Resolver.FetchTimeout,
		Retry:   retryConfig(cfg),
		Limits:  rateLimits(cfg),
		Logger:  logger,
		Metrics: metrics,
	})

	resolver, err := tokens.NewResolver(tokens.Options{
		Store:        st.metadata,
		Fetcher:      fetcher,
		Logger:       logger,
		Workers:      cfg.Resolver.Workers,
		FetchTimeout: cfg.Resolver.FetchTimeout,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}
	defer resolver.Close()

	switch opts.mode {
	case "serve":
		srv := api.NewServer(resolver, observability.Handler(), logger)
		return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	case "resolve":
		return resolve(ctx, resolver, opts)
	case "logs":
		return processLogs(ctx, resolver, registry, st.progress, cfg.Logs.BlockWindow, opts, logger)
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
}

func retryConfig(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	if cfg.Resolver.MaxRetries > 0 {
		rc.MaxRetries = cfg.Resolver.MaxRetries
	}
	return rc
}

func rateLimits(cfg *config.Config) map[domain.ChainID]chain.RateLimit {
	out := make(map[domain.ChainID]chain.RateLimit, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		out[domain.ChainID(ch.ID)] = chain.RateLimit{PerSecond: ch.RateLimit, Burst: ch.Burst}
	}
	return out
}

// stores holds the persistence backends for one run.
type stores struct {
	metadata storage.TokenMetadataStore
	progress storage.ScanProgressStore
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// createStores builds the configured backend, fronted by Redis when configured.
// Scan checkpoints live in Postgres on that backend and in memory otherwise.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*stores, error) {
	st := &stores{}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		st.metadata = memory.NewTokenMetadataStore()
		st.progress = memory.NewScanProgressStore()
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		st.metadata = pgstore.NewTokenMetadataStore(pool, metrics)
		st.progress = pgstore.NewScanProgressStore(pool)
	case config.BackendClickHouse:
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		st.closers = append(st.closers, func() { _ = conn.Close() })
		st.metadata = chstore.NewTokenMetadataStore(conn, metrics)
		st.progress = memory.NewScanProgressStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	logger.Info("metadata store ready", zap.String("backend", cfg.Store.Backend))

	if cfg.Redis.Addr == "" {
		return st, nil
	}

	client, err := redisstore.NewClient(ctx, redisstore.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.closers = append(st.closers, func() { _ = client.Close() })
	st.metadata = redisstore.NewCachedStore(client, st.metadata, cfg.Redis.TTL, logger, metrics)
	return st, nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		n, err := migrations.RunPostgres(ctx, pool, logger)
		if err != nil {
			return err
		}
		logger.Info("postgres migrations complete", zap.Int("applied", n))
		return nil
	case config.BackendClickHouse:
		conn, err := migrations.RunClickHouse(ctx, cfg.ClickHouse.DSN, logger)
		if err != nil {
			return err
		}
		logger.Info("clickhouse migrations complete")
		return conn.Close()
	default:
		logger.Info("nothing to migrate", zap.String("backend", cfg.Store.Backend))
		return nil
	}
}

func resolve(ctx context.Context, resolver *tokens.Resolver, opts options) error {
	chainID := domain.ChainID(opts.chain)
	set, err := address.ParseList(chainID, splitList(opts.addresses))
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return errors.New("-addresses is required in resolve mode")
	}

	if opts.partial {
		out, err := resolver.ResolvePartial(ctx, chainID, set.Slice())
		if err != nil {
			return err
		}
		failed := make(map[string]string, len(out.Failed))
		for a, ferr := range out.Failed {
			failed[a.Hex] = ferr.Error()
		}
		return printJSON(map[string]any{"data": api.ToResponses(out.Resolved), "failed": failed})
	}

	res, err := resolver.Resolve(ctx, chainID, set.Slice())
	if err != nil {
		return err
	}
	return printJSON(api.TokensResponse{Data: api.ToResponses(res)})
}

func processLogs(ctx context.Context, resolver *tokens.Resolver, registry *chain.Registry, progress storage.ScanProgressStore, window uint64, opts options, logger *zap.Logger) error {
	chainID := domain.ChainID(opts.chain)
	src, err := registry.LogFilterer(ctx, chainID)
	if err != nil {
		return err
	}

	scanner := logs.NewScanner(logs.NewProcessor(resolver, logger), progress, window, logger)
	res, err := scanner.Scan(ctx, chainID, src, opts.fromBlock, opts.toBlock, opts.resume)
	if err != nil {
		return err
	}
	return printJSON(api.TokensResponse{Data: api.ToResponses(res)})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadEnvFile loads KEY=VALUE pairs from .env without overriding the environment.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, strings.TrimSpace(value))
		}
	}
}
