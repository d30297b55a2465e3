package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"investia/internal/advisor"
	"investia/internal/assets"
	"investia/internal/backtest"
	"investia/internal/config"
	"investia/internal/daemon"
	"investia/internal/fusion"
	"investia/internal/logger"
	"investia/internal/provider"
	"investia/internal/sentiment"
	"investia/internal/store"
	"investia/pkg/model"
)

var (
	cfgFile string
	envFile string
	format  string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "investia",
		Short: "Signal fusion advisor and backtester",
		Long: `Investia fuses technical indicators, a price trend estimate, news sentiment
and the market fear index into BUY / HOLD / SELL recommendations, and replays
the same rule over history against buy-and-hold.

Examples:
  investia recommend --max-tier medium
  investia watch --interval 1h
  investia backtest SPY --days 365 --capital 10000
  investia backtest QQQ TQQQ GLD --format json
  investia regime
  investia history --symbol SPY`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	rootCmd.AddCommand(
		newRecommendCmd(),
		newWatchCmd(),
		newBacktestCmd(),
		newRegimeCmd(),
		newAssetsCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs, built from the configuration
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	closeLog  func()
	catalog   *assets.Catalog
	prices    *provider.CachingProvider
	fusion    *fusion.Engine
	sentiment *sentiment.FileSource
	store     *store.Store
}

func setup(withStore bool) (*app, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, closeLog: closeLog}

	if cfg.Assets.File != "" {
		a.catalog, err = assets.LoadFile(cfg.Assets.File)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		a.catalog = assets.Default()
	}

	providers := createProviders(cfg)
	fallbackProvider := provider.NewFallbackProvider(providers...)
	if !fallbackProvider.IsAvailable() {
		a.Close()
		return nil, fmt.Errorf("no available data providers")
	}
	log.Debug("providers ready", zap.Int("count", len(fallbackProvider.Providers())))
	a.prices = provider.NewCachingProvider(fallbackProvider, cfg.Advisor.HistoryDays, cfg.Provider.CacheTTL)

	a.fusion, err = fusion.NewEngine(cfg.Fusion, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Sentiment.File != "" {
		a.sentiment, err = sentiment.LoadFile(cfg.Sentiment.File, cfg.Sentiment.MaxAge)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if withStore && cfg.Store.Enabled {
		a.store, err = store.Open(cfg.Store.Path, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// newAdvisor wires the live cycle; workers > 0 overrides the config
func (a *app) newAdvisor(workers int) *advisor.Advisor {
	advCfg := advisor.Config{
		Workers:     a.cfg.Advisor.Workers,
		Timeout:     a.cfg.Advisor.Timeout,
		HistoryDays: a.cfg.Advisor.HistoryDays,
		FearDays:    a.cfg.Advisor.FearDays,
	}
	if workers > 0 {
		advCfg.Workers = workers
	}

	opts := []advisor.Option{
		advisor.WithFearIndex(a.prices),
		advisor.WithTrend(a.cfg.Trend),
		advisor.WithLogger(a.logger),
	}
	if a.sentiment != nil {
		opts = append(opts, advisor.WithSentiment(a.sentiment))
	}
	if a.store != nil {
		opts = append(opts, advisor.WithRecorder(a.store))
	}
	return advisor.New(a.fusion, a.prices, advCfg, opts...)
}

func createProviders(cfg *config.Config) []provider.Provider {
	var providers []provider.Provider

	if cfg.Provider.Alpaca.Enabled() {
		providers = append(providers, provider.NewAlpacaProvider(
			cfg.Provider.Alpaca.Key, cfg.Provider.Alpaca.Secret, cfg.Provider.Alpaca.Feed))
	}
	// Yahoo also serves the fear index
	if cfg.Provider.Yahoo.Enabled {
		providers = append(providers, provider.NewYahooProvider(cfg.Provider.Yahoo.RateLimit))
	}

	return providers
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func newRecommendCmd() *cobra.Command {
	var (
		symbolList string
		maxTier    string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Fuse current signals into recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := selectAssets(a.catalog, symbolList, maxTier)
			if err != nil {
				return err
			}

			adv := a.newAdvisor(workers)

			ctx, cancel := signalContext()
			defer cancel()

			finish := func() {}
			if format != "json" {
				fmt.Printf("Analyzing %d assets...\n\n", len(list))
				bar := newProgressBar(len(list), "Fetching")
				adv.SetProgressCallback(func(done, total int, _ string) {
					bar.Set(done)
				})
				finish = func() { bar.Finish() }
			}

			report, err := adv.Refresh(ctx, list)
			finish()
			if err != nil {
				return fmt.Errorf("refreshing: %w", err)
			}

			if format == "json" {
				return outputJSON(report)
			}
			fmt.Println()
			return outputReportTable(report, a.catalog)
		},
	}

	cmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated symbols (default: whole catalog)")
	cmd.Flags().StringVar(&maxTier, "max-tier", "", "only assets up to this risk tier: very_low, low, medium_low, medium, high")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of parallel workers (default from config)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		symbolList string
		maxTier    string
		interval   time.Duration
		cycles     int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh recommendations on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := selectAssets(a.catalog, symbolList, maxTier)
			if err != nil {
				return err
			}

			cfg := daemon.Config{
				Interval:    a.cfg.Advisor.Interval,
				MaxCycles:   cycles,
				MaxFailures: a.cfg.Advisor.MaxFailures,
			}
			if interval > 0 {
				cfg.Interval = interval
			}

			d, err := daemon.New(cfg, a.newAdvisor(0), list,
				daemon.WithLogger(a.logger),
				daemon.WithReportHandler(func(report *advisor.Report) {
					if format == "json" {
						if err := outputJSON(report); err != nil {
							a.logger.Warn("failed to write report", zap.Error(err))
						}
						return
					}
					fmt.Printf("\n=== %s ===\n", report.GeneratedAt.Format("2006-01-02 15:04"))
					if err := outputReportTable(report, a.catalog); err != nil {
						a.logger.Warn("failed to write report", zap.Error(err))
					}
				}))
			if err != nil {
				return err
			}

			if format != "json" {
				fmt.Printf("Watching %d assets every %s. Press Ctrl+C to stop.\n", len(list), cfg.Interval)
			}

			ctx, cancel := signalContext()
			defer cancel()

			sum, err := d.Run(ctx)
			if format != "json" {
				fmt.Printf("\nStopped after %d cycles (%d failed): %s\n", sum.Cycles, sum.Failures, sum.Reason)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated symbols (default: whole catalog)")
	cmd.Flags().StringVar(&maxTier, "max-tier", "", "only assets up to this risk tier")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between refreshes (default from config)")
	cmd.Flags().IntVar(&cycles, "cycles", 0, "stop after this many refreshes (0 runs until interrupted)")
	return cmd
}

func newBacktestCmd() *cobra.Command {
	var (
		days        int
		capital     float64
		wholeShares bool
		showTrades  bool
	)

	cmd := &cobra.Command{
		Use:   "backtest SYMBOL [SYMBOL...]",
		Short: "Replay the fusion rule over daily history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.Close()

			btCfg := a.cfg.Backtest
			if cmd.Flags().Changed("whole-shares") {
				btCfg.WholeShares = wholeShares
			}
			engine, err := backtest.NewEngine(btCfg, a.logger)
			if err != nil {
				return err
			}

			opts := []backtest.RunnerOption{
				backtest.WithFearIndex(a.prices),
				backtest.WithTrend(a.cfg.Trend),
				backtest.WithLogger(a.logger),
			}
			if a.sentiment != nil {
				opts = append(opts, backtest.WithSentiment(a.sentiment))
			}
			if a.store != nil {
				opts = append(opts, backtest.WithRecorder(a.store))
			}
			runner := backtest.NewRunner(engine, a.fusion, a.catalog, a.prices, opts...)

			ctx, cancel := signalContext()
			defer cancel()

			reqs := make([]backtest.Request, len(args))
			for i, sym := range args {
				reqs[i] = backtest.Request{Symbol: strings.ToUpper(sym), Days: days, InitialCapital: capital}
			}

			if len(reqs) == 1 {
				res, err := runner.Run(ctx, reqs[0])
				if err != nil {
					return err
				}
				if format == "json" {
					return outputJSON(res)
				}
				outputResult(res, showTrades)
				return nil
			}

			var progress backtest.ProgressCallback
			finish := func() {}
			if format != "json" {
				bar := newProgressBar(len(reqs), "Backtesting")
				progress = func(done, total int, _ string) { bar.Set(done) }
				finish = func() { bar.Finish() }
			}

			outcomes, err := runner.RunMany(ctx, reqs, progress)
			finish()
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(outcomeView(outcomes))
			}
			fmt.Println()
			outputOutcomesTable(outcomes)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "trading days to simulate (default from config)")
	cmd.Flags().Float64Var(&capital, "capital", 0, "initial capital (default from config)")
	cmd.Flags().BoolVar(&wholeShares, "whole-shares", false, "buy whole shares only")
	cmd.Flags().BoolVar(&showTrades, "trades", false, "print the trade log")
	return cmd
}

func newRegimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regime",
		Short: "Show the current fear index regime",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			adv := advisor.New(a.fusion, a.prices, advisor.Config{FearDays: a.cfg.Advisor.FearDays},
				advisor.WithFearIndex(a.prices), advisor.WithLogger(a.logger))
			reg := adv.Regime(ctx)

			if format == "json" {
				return outputJSON(reg)
			}
			outputRegime(reg, a.cfg.Fusion)
			return nil
		},
	}
}

func newAssetsCmd() *cobra.Command {
	var maxTier string

	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List the asset catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, envFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			catalog := assets.Default()
			if cfg.Assets.File != "" {
				if catalog, err = assets.LoadFile(cfg.Assets.File); err != nil {
					return err
				}
			}

			list, err := selectAssets(catalog, "", maxTier)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(list)
			}
			outputAssetsTable(list)
			return nil
		},
	}

	cmd.Flags().StringVar(&maxTier, "max-tier", "", "only assets up to this risk tier")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		symbol string
		limit  int
		recs   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored backtest runs or recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.store == nil {
				return fmt.Errorf("history store is disabled (store.enabled)")
			}

			ctx := context.Background()
			sym := strings.ToUpper(symbol)

			if recs {
				records, err := a.store.RecentRecommendations(ctx, sym, limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return outputJSON(records)
				}
				outputRecommendationHistory(records)
				return nil
			}

			runs, err := a.store.ListRuns(ctx, sym, limit)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(runs)
			}
			outputRunsTable(runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "only this symbol")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().BoolVar(&recs, "recommendations", false, "show stored recommendations instead of runs")

	cmd.AddCommand(&cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one stored backtest run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.store == nil {
				return fmt.Errorf("history store is disabled (store.enabled)")
			}

			res, err := a.store.GetRun(context.Background(), args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(res)
			}
			outputResult(res, true)
			return nil
		},
	})

	return cmd
}

// selectAssets resolves explicit symbols or filters the catalog by tier
func selectAssets(catalog *assets.Catalog, symbolList, maxTier string) ([]model.Asset, error) {
	if symbolList != "" {
		return catalog.Resolve(strings.Split(symbolList, ","))
	}
	if maxTier == "" {
		return catalog.All(), nil
	}
	tier, err := model.ParseRiskTier(maxTier)
	if err != nil {
		return nil, err
	}
	return catalog.UpTo(tier), nil
}
