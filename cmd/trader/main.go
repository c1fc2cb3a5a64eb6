package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/adapters/binance"
	"github.com/alejandrodnm/polytrader/internal/adapters/notify"
	"github.com/alejandrodnm/polytrader/internal/adapters/onchain"
	"github.com/alejandrodnm/polytrader/internal/adapters/polymarket"
	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/engine"
	"github.com/alejandrodnm/polytrader/internal/application/scanner"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/signal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full position table each cycle (default: compact 1-line)")
	report := flag.Bool("report", false, "print daily P&L report and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, store)
		return
	}

	privateKey := os.Getenv("POLY_PRIVATE_KEY")
	rpcURL := os.Getenv("POLYGON_RPC_URL")
	if privateKey == "" || rpcURL == "" {
		slog.Error("POLY_PRIVATE_KEY and POLYGON_RPC_URL are required")
		os.Exit(1)
	}

	slog.Info("polytrader starting",
		"config", *configPath,
		"interval", cfg.ScanInterval(),
		"assets", cfg.Engine.Assets,
		"once", *once,
	)

	fmt.Printf("\n⚠️  LIVE TRADING — REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Capital: $%.2f | Order notional: $%.2f | Daily loss cap: $%.2f\n",
		cfg.Engine.InitialCapital, cfg.Engine.OrderNotionalUSDC, cfg.Risk.DailyLossCapUSDC)
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")
	abortTimer := time.NewTimer(5 * time.Second)
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		slog.Info("aborted by user")
		return
	}

	eng, feed, err := buildEngine(ctx, cfg, store, privateKey, rpcURL, *table)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("reference feed stopped", "err", err)
		}
	}()

	if err := eng.Recover(ctx); err != nil {
		slog.Error("recovery failed", "err", err)
		os.Exit(1)
	}

	if *once {
		rep, err := eng.RunOnce(ctx)
		if err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		_ = notify.NewConsole(true).Notify(ctx, rep)
		return
	}

	go watchStopFile(ctx, cancel)

	slog.Info("trading started — press Ctrl+C or create STOP_TRADING file to exit")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("polytrader stopped cleanly")
}

// buildEngine ensambla todos los adapters y el motor.
func buildEngine(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore,
	privateKey, rpcURL string, table bool) (*engine.Engine, ports.ReferenceFeed, error) {

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	authClient, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("auth client: %w", err)
	}
	if err := authClient.EnsureCreds(ctx); err != nil {
		return nil, nil, fmt.Errorf("derive API credentials (check POLY_PRIVATE_KEY): %w", err)
	}
	slog.Info("authenticated with CLOB", "address", authClient.Address())

	executor, err := polymarket.NewTradingClient(authClient, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("trading client: %w", err)
	}

	balance, err := executor.GetBalance(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("CLOB balance: %w", err)
	}
	slog.Info("CLOB balance", "usdc", fmt.Sprintf("$%.2f", balance))
	if balance < cfg.Engine.OrderNotionalUSDC {
		return nil, nil, fmt.Errorf("insufficient CLOB balance: $%.2f < $%.2f", balance, cfg.Engine.OrderNotionalUSDC)
	}

	redeemer, err := onchain.NewRedeemClient(ctx, rpcURL, privateKey, store, onchain.SequencerConfig{
		MaxPending:      cfg.Sequencer.MaxPending,
		StuckTimeout:    time.Duration(cfg.Sequencer.StuckTimeoutSeconds) * time.Second,
		GasBumpPercent:  int64(cfg.Sequencer.GasBumpPercent),
		MaxGasPriceGwei: cfg.Sequencer.MaxGasPriceGwei,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redeem client: %w", err)
	}

	slog.Info("checking on-chain approvals...")
	if err := redeemer.EnsureApprovals(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensure approvals: %w", err)
	}
	slog.Info("all approvals verified")

	feed := binance.NewFeed(binance.Config{
		WSBase:          cfg.Reference.WSBase,
		HistoryCapacity: cfg.Reference.HistoryCapacity,
	}, cfg.Engine.Assets)

	providers := []ports.SignalProvider{
		signal.NewMomentumProvider(cfg.Reference.MomentumMinMove, cfg.Reference.VolatilityHighTh),
		signal.NewImbalanceProvider(0),
	}
	ensemble := signal.NewEnsemble(providers, cfg.Ensemble.ProviderWeights,
		cfg.Ensemble.MinConsensus, time.Duration(cfg.Ensemble.TimeoutSeconds)*time.Second)

	fees := domain.NewFeeModel(cfg.Fees.Floor, cfg.Fees.Peak)
	detector := scanner.NewDetector(client, client, feed, fees, ensemble, scanner.Config{
		Assets:            cfg.Engine.Assets,
		OrderNotionalUSDC: cfg.Engine.OrderNotionalUSDC,
		MinOrderValueUSDC: cfg.Engine.MinOrderValueUSDC,
		SizeGranularity:   cfg.Engine.SizeGranularity,
		MinEdge:           cfg.Engine.MinEdge,
		TTL:               time.Duration(cfg.Engine.OpportunityTTL * float64(time.Second)),
		MomentumWindow:    time.Duration(cfg.Reference.MomentumWindowS) * time.Second,
	})

	ledger := engine.NewLedger(store)
	risk := engine.NewRiskManager(cfg.Risk, cfg.Engine.InitialCapital, store)
	exits := engine.NewExitPolicy(cfg.Exits, cfg.Reference.VolatilityHighTh, cfg.Reference.MomentumMinMove)
	legs := engine.NewLegRunner(executor, store, cfg.LegTimeout())
	atomicExec := engine.NewAtomicExecutor(legs, fees, store)
	notifier := notify.NewConsole(table)

	eng := engine.NewEngine(cfg, detector, executor, redeemer, feed, ledger, risk,
		exits, atomicExec, legs, redeemer.Sequencer(), store, notifier)
	return eng, feed, nil
}

// runReport imprime el resumen diario histórico y sale.
func runReport(ctx context.Context, store *storage.SQLiteStore) {
	to := time.Now()
	from := to.AddDate(0, -1, 0)
	summaries, err := store.GetDailySummaries(ctx, from, to)
	if err != nil {
		slog.Error("failed to load daily summaries", "err", err)
		os.Exit(1)
	}
	notify.NewConsole(true).PrintDailySummaries(summaries)
}

// watchStopFile apaga el trader si aparece el archivo STOP_TRADING.
func watchStopFile(ctx context.Context, cancel context.CancelFunc) {
	const stopFile = "STOP_TRADING"
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("STOP_TRADING file detected — shutting down")
				os.Remove(stopFile)
				cancel()
				return
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
