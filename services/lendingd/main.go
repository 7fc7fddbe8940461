package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lendledger/config"
	"lendledger/core"
	ledgerstate "lendledger/core/state"
	"lendledger/crypto"
	"lendledger/native/bank"
	"lendledger/native/oracle"
	"lendledger/observability/logging"
	telemetry "lendledger/observability/otel"
	lendingconfig "lendledger/services/lendingd/config"
	"lendledger/services/lendingd/middleware"
	"lendledger/services/lendingd/server"
	"lendledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := lendingconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDLEDGER_ENV"))
	logger, logCloser := logging.Setup(logging.Options{
		Service:    "lendingd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	nodeCfg, err := config.Load(cfg.NodeConfig)
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}
	params, err := nodeCfg.Lending.Params()
	if err != nil {
		return err
	}
	prices, err := nodeCfg.Lending.SeedPrices()
	if err != nil {
		return err
	}

	db, err := openDatabase(nodeCfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var journal *ledgerstate.OperationLog
	if nodeCfg.Journal.Enabled {
		journal, err = ledgerstate.OpenOperationLog(nodeCfg.Journal.Driver, nodeCfg.JournalDSN())
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	clock := core.NewManualClock(nodeCfg.Chain.StartHeight)
	feed := oracle.NewFeed(nodeCfg.Oracle.MaxAgeBlocks, clock)

	system := crypto.ModuleAddress("lending")
	node, err := core.NewNode(core.Options{
		System:  system,
		Params:  params,
		Bank:    bank.New(system),
		Oracle:  feed,
		Clock:   clock,
		DB:      db,
		Journal: journal,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	// The node resumed the clock from the persisted height; startup prices
	// are observed there so they are not already stale.
	if err := feed.Seed(prices, clock.Height()); err != nil {
		return fmt.Errorf("seed oracle: %w", err)
	}
	node.SetModulePaused(nodeCfg.Pauses.Lending)

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[limit.ID] = middleware.RateLimit{
			RatePerSecond: limit.RatePerSecond,
			Burst:         limit.Burst,
			DefaultTokens: limit.DefaultTokens,
			Tokens:        limit.Tokens,
		}
	}
	srv, err := server.New(server.Config{
		Ledger: node,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability("lending", cfg.Logging.LogRequests, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger:        logger,
		Faucet:        cfg.Dev.Faucet,
		ManualClock:   nodeCfg.Chain.ManualClock,
		Timeout:       cfg.WriteTimeout,
	})
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled {
		logger.Warn("bearer authentication disabled; callers are taken from the request header",
			slog.String("header", middleware.CallerHeader))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := nodeCfg.Chain.BlockTimeSeconds; interval > 0 {
		go produceBlocks(ctx, node, time.Duration(interval)*time.Second, logger)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			slog.String("listen", cfg.ListenAddress),
			slog.Uint64("height", clock.Height()),
			slog.String("account", system.String()))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return db, nil
}

func produceBlocks(ctx context.Context, node *core.Node, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := node.AdvanceBlocks(1); err != nil {
				logger.Error("advance block", slog.Any("error", err))
				return
			}
		}
	}
}
