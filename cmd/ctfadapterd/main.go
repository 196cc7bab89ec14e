package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ctfadapter/config"
	"ctfadapter/core/events"
	"ctfadapter/ctf"
	"ctfadapter/explorer"
	"ctfadapter/native/market"
	"ctfadapter/observability/logging"
	"ctfadapter/observability/metrics"
	otelinit "ctfadapter/observability/otel"
	"ctfadapter/oracle"
	"ctfadapter/rpc"
	"ctfadapter/state"
	"ctfadapter/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memoryFlag := flag.Bool("memory", false, "DEV ONLY: run against an in-memory database")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup("ctfadapterd", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db storage.Database
	if *memoryFlag {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	manager := state.NewManager(db)
	for _, admin := range cfg.AdminAddrs() {
		if err := manager.GrantRole(market.RoleMarketAdmin, admin[:]); err != nil {
			logger.Error("failed to grant admin role", slog.Any("error", err))
			os.Exit(1)
		}
	}

	history, err := explorer.Open(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		logger.Error("failed to open history store", slog.Any("error", err))
		os.Exit(1)
	}

	gateway := oracle.NewOptimistic(cfg.OracleAddr())
	if cfg.OracleLiveness > 0 {
		gateway.SetLiveness(cfg.OracleLiveness)
	}
	ledger := ctf.NewLedger()

	engine := market.NewEngine(cfg.AdapterAddr())
	engine.SetState(manager)
	engine.SetOracle(gateway, gateway.Address())
	engine.SetConditions(ledger)
	engine.SetWhitelist(market.NewStaticWhitelist(cfg.WhitelistAddrs()...))
	engine.SetSafetyPeriod(cfg.SafetyPeriodSeconds)
	if cfg.MaxAncillaryBytes > 0 {
		engine.SetMaxAncillaryLen(cfg.MaxAncillaryBytes)
	}
	engine.SetEmitter(events.MultiEmitter{metrics.Market(), history})
	gateway.SetListener(engine)

	enableOtel := cfg.OTLPEndpoint != ""
	if enableOtel {
		shutdown, err := otelinit.Init(ctx, otelinit.Config{
			ServiceName: "ctfadapterd",
			Environment: cfg.Env,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.Env != "prod",
			Traces:      true,
		})
		if err != nil {
			logger.Error("failed to initialize telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	authSecret := cfg.ResolveAuthSecret()
	if authSecret == "" {
		logger.Warn("admin authentication disabled: no auth secret configured")
	}
	server := rpc.NewServer(rpc.Config{
		ListenAddress: cfg.ListenAddress,
		Auth:          rpc.AuthConfig{Enabled: authSecret != "", HMACSecret: authSecret},
		RatePerSecond: cfg.RateLimitPerSecond,
		RateBurst:     cfg.RateLimitBurst,
		EnableOtel:    enableOtel,
	}, engine, gateway, ledger, history, logger)

	logger.Info("adapter listening",
		slog.String("address", cfg.ListenAddress),
		slog.String("adapter", cfg.AdapterAddress),
		slog.String("oracle", cfg.OracleAddress),
	)
	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
