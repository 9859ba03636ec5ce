// ammsim drives a concentrated-liquidity pool through a scripted session,
// exposing the event feed over websocket and prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/defistate/clamm-engine-go/cmd/ammsim/config"
	"github.com/defistate/clamm-engine-go/ledger"
	"github.com/defistate/clamm-engine-go/pool"
	"github.com/defistate/clamm-engine-go/storage"
	"github.com/defistate/clamm-engine-go/storage/postgres"
	"github.com/defistate/clamm-engine-go/streams/wsfeed"
)

func main() {
	root := &cobra.Command{
		Use:          "ammsim",
		Short:        "Concentrated-liquidity pool simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scripted pool session",
		RunE:  runSession,
	}
	runCmd.Flags().String("asset0", "", "asset0 address (must sort below asset1)")
	runCmd.Flags().String("asset1", "", "asset1 address")
	runCmd.Flags().Uint64("fee-pips", 3000, "swap fee in parts-per-million")
	runCmd.Flags().Int64("tick-spacing", 60, "tick spacing")
	runCmd.Flags().String("sqrt-price-x96", "", "initial sqrt price, Q64.96")
	runCmd.Flags().String("script", "", "session script path (JSONL)")
	runCmd.Flags().String("listen", ":8080", "address for /metrics and /ws")
	runCmd.Flags().String("snapshot-dir", "./data/snapshots", "snapshot output directory")
	runCmd.Flags().String("snapshot-name", "pool", "snapshot name")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for snapshots")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(runCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a stored snapshot as JSON",
		RunE:  showSnapshot,
	}
	snapshotCmd.Flags().String("snapshot-dir", "./data/snapshots", "snapshot directory")
	snapshotCmd.Flags().String("snapshot-name", "pool", "snapshot name")
	snapshotCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(snapshotCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	if cfg.Asset0 == "" || cfg.Asset1 == "" {
		return fmt.Errorf("asset0 and asset1 are required")
	}
	if cfg.Script == "" {
		return fmt.Errorf("script path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := wsfeed.New(wsfeed.Config{Logger: logger})
	defer feed.Close()

	registry := prometheus.NewRegistry()
	assets := ledger.NewMemLedger()

	p, err := pool.New(pool.Config{
		Asset0:      common.HexToAddress(cfg.Asset0),
		Asset1:      common.HexToAddress(cfg.Asset1),
		Account:     poolAccount,
		FeePips:     cfg.FeePips,
		TickSpacing: cfg.TickSpacing,
		Ledger:      assets,
		Logger:      logger,
		Registerer:  registry,
		Sink:        feed,
	})
	if err != nil {
		return err
	}

	if cfg.SqrtPriceX96 != "" {
		price, ok := new(big.Int).SetString(cfg.SqrtPriceX96, 10)
		if !ok {
			return fmt.Errorf("invalid sqrt-price-x96 %q", cfg.SqrtPriceX96)
		}
		if err := p.Initialize(price); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/ws", feed)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Info("http listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	session := newSession(p, assets, logger)
	if err := session.RunScript(ctx, cfg.Script); err != nil {
		return err
	}

	var store storage.Store
	if cfg.PgDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	} else {
		store = storage.NewFileStore(cfg.SnapshotDir)
	}
	if err := store.SaveSnapshot(ctx, cfg.SnapshotName, p.State()); err != nil {
		return err
	}
	logger.Info("snapshot saved", "name", cfg.SnapshotName)
	return nil
}

func showSnapshot(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	store := storage.NewFileStore(cfg.SnapshotDir)
	st, ok, err := store.LoadSnapshot(context.Background(), cfg.SnapshotName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot named %q under %s", cfg.SnapshotName, cfg.SnapshotDir)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(storage.Encode(st))
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
