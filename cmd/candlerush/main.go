package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/config"
	"github.com/alejandrodnm/candlerush/internal/adapters/binance"
	"github.com/alejandrodnm/candlerush/internal/adapters/coingecko"
	"github.com/alejandrodnm/candlerush/internal/adapters/httpapi"
	"github.com/alejandrodnm/candlerush/internal/adapters/notify"
	"github.com/alejandrodnm/candlerush/internal/adapters/storage"
	"github.com/alejandrodnm/candlerush/internal/application/ledger"
	"github.com/alejandrodnm/candlerush/internal/application/pricing"
	"github.com/alejandrodnm/candlerush/internal/application/resolver"
	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print wager history + stats and exit")
	reset := flag.Bool("reset", false, "clear wager history, reset balance and exit")
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

	slog.Info("candlerush starting",
		"config", *configPath,
		"symbol", cfg.Game.Symbol,
		"interval", cfg.Interval(),
		"betting_window", cfg.BettingWindow(),
		"dsn", cfg.Storage.DSN,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	clock := clockwork.NewRealClock()
	bn := binance.NewClient(cfg.API.BinanceBase, cfg.APITimeout())
	cg := coingecko.NewClient(cfg.API.CoinGeckoBase, cfg.APITimeout())

	bases := pricing.DefaultSyntheticBases()
	for sym, b := range cfg.Synthetic.Bases {
		bases[domain.NormalizeSymbol(sym)] = decimal.NewFromFloat(b)
	}
	prices := pricing.New(pricing.Config{
		Interval:        cfg.Interval(),
		SyntheticBase:   decimal.NewFromFloat(cfg.Synthetic.BasePrice),
		SyntheticSpread: decimal.NewFromFloat(cfg.Synthetic.Spread),
		SyntheticBases:  bases,
	},
		[]ports.QuoteProvider{bn, cg},
		[]ports.CandleProvider{bn},
		clock,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	book, err := ledger.New(ctx, ledger.Config{
		InitialBalance: config.Money(cfg.Game.InitialBalance),
		PayoutRate:     decimal.NewFromFloat(cfg.Game.PayoutRate),
		MinStake:       config.Money(cfg.Game.MinStake),
		MaxStake:       config.Money(cfg.Game.MaxStake),
		MaxLeverage:    cfg.Game.MaxLeverage,
		Interval:       cfg.Interval(),
		BettingWindow:  cfg.BettingWindow(),
	}, prices, store, clock)
	if err != nil {
		slog.Error("failed to load ledger", "err", err)
		os.Exit(1)
	}

	console := notify.NewConsole()

	switch {
	case *reset:
		runReset(book, console)
		return
	case *report:
		console.PrintReport(book.Snapshot())
		return
	}

	if err := serve(ctx, cfg, book, prices, bn, clock, console); err != nil {
		slog.Error("candlerush exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("candlerush stopped cleanly")
}

// serve arranca resolver, hub, notificador de consola y gateway, y bloquea
// hasta que ctx se cancele.
func serve(ctx context.Context, cfg *config.Config, book *ledger.Ledger, prices *pricing.Source,
	candles ports.CandleLister, clock clockwork.Clock, console *notify.Console) error {

	// consola: una línea por liquidación
	printer := book.Subscribe(64)
	defer printer.Close()
	go notify.Forward(ctx, printer.C, console)

	hub := httpapi.NewWSHub()
	go hub.Run(ctx)
	stream := book.Subscribe(256)
	defer stream.Close()
	go hub.Pump(ctx, stream.C)

	res := resolver.New(book, prices, clock, resolver.Config{
		Tick:        time.Duration(cfg.Resolver.TickMS) * time.Millisecond,
		PnLEvery:    config.Seconds(cfg.Resolver.PnLEverySeconds),
		WindowStart: config.Seconds(cfg.Resolver.WindowStartSeconds),
		WindowEnd:   config.Seconds(cfg.Resolver.WindowEndSeconds),
		MaxAge:      config.Seconds(cfg.Resolver.MaxAgeSeconds),
		PruneEvery:  config.Seconds(cfg.Resolver.PruneEverySeconds),
		Interval:    cfg.Interval(),
	})
	res.Start(ctx)
	defer res.Stop()

	h := httpapi.NewHandler(book, prices, candles, cfg.Game.Symbol, cfg.Interval())
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(h, hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	console.PrintBalance(book.Balance(), book.Stats())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown error", "err", err)
	}
	return nil
}

// runReset borra el historial (devolviendo pendientes) y repone el saldo.
func runReset(book *ledger.Ledger, console *notify.Console) {
	removed := book.ClearHistory()
	balance := book.ResetBalance()
	slog.Info("ledger reset", "removed", removed, "balance", balance.StringFixed(2))
	console.PrintBalance(balance, book.Stats())
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
