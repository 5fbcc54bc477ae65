package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"RotationSentinel/internal/barcache"
	"RotationSentinel/internal/collector"
	"RotationSentinel/internal/config"
	"RotationSentinel/internal/portfolio"
	"RotationSentinel/internal/provider"
	"RotationSentinel/internal/strategy"
	"RotationSentinel/internal/util"
)

// app holds what every subcommand needs, built once the config is known.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	pm     *portfolio.Manager
	engine *strategy.Engine
	store  *provider.SignalStore
	remote *provider.RemoteProvider
}

func (a *app) chain(localOnly bool) *provider.Chain {
	local := &provider.LocalProvider{Engine: a.engine}
	if localOnly {
		return provider.NewChain(a.store, a.log, local)
	}
	var tiers []provider.Provider
	if a.remote != nil {
		tiers = append(tiers, a.remote)
	}
	tiers = append(tiers, a.store, local)
	return provider.NewChain(a.store, a.log, tiers...)
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := util.NewLoggerTo(os.Stderr, cfg.App.LogLevel)
	loc := cfg.Strategy.Location()

	fetcher, err := collector.New(cfg.DataSource.Provider, cfg.DataSource.BaseURL, cfg.DataSource.Token, cfg.Proxy, loc)
	if err != nil {
		return nil, err
	}
	pm, err := portfolio.NewManager(cfg.Portfolio.StateFile, cfg.Portfolio.MirrorFile, cfg.Portfolio.Allocation,
		portfolio.WithLocation(loc), portfolio.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		pm:     pm,
		engine: strategy.NewEngine(cfg.Strategy, fetcher, barcache.NewFileRepository(cfg.Storage.CacheFile), strategy.WithLogger(log)),
		store:  provider.NewSignalStore(cfg.Storage.SignalFile),
	}
	if cfg.RemoteSignal.BaseURL != "" {
		a.remote = provider.NewRemoteProvider(cfg.RemoteSignal.BaseURL, cfg.RemoteSignal.APIKey,
			time.Duration(cfg.RemoteSignal.TimeoutSecs)*time.Second, cfg.Proxy)
		a.remote.Capital = func() float64 { return pm.Portfolio().TotalCapital }
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	a := new(app)

	root := &cobra.Command{
		Use:   "rotator",
		Short: "ETF momentum rotation signals and portfolio reconciliation",
		Long: `Rotator computes the daily ETF rotation signal and reconciles it with
your brokerage holdings.

Examples:
  rotator signal --local
  rotator advise
  rotator holding add 黄金ETF 1000 5.12
  rotator capital --total 100000 --cash 20000`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			built, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			*a = *built
			return nil
		},
	}

	defaultCfg := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultCfg = v
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "path to config YAML")

	root.AddCommand(
		newSignalCmd(a),
		newAdviseCmd(a),
		newHealthCmd(a),
		newHoldingCmd(a),
		newCapitalCmd(a),
		newImportCmd(a),
	)
	return root
}
