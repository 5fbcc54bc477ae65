package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RotationSentinel/internal/barcache"
	"RotationSentinel/internal/collector"
	"RotationSentinel/internal/config"
	"RotationSentinel/internal/metrics"
	"RotationSentinel/internal/notifier"
	"RotationSentinel/internal/portfolio"
	"RotationSentinel/internal/provider"
	"RotationSentinel/internal/recorder"
	"RotationSentinel/internal/scheduler"
	"RotationSentinel/internal/strategy"
	"RotationSentinel/internal/util"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	log.Info().Msg("RotationSentinel starting...")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}

	loc := cfg.Strategy.Location()

	// Init fetcher and engine
	fetcher, err := collector.New(cfg.DataSource.Provider, cfg.DataSource.BaseURL, cfg.DataSource.Token, cfg.Proxy, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("init fetcher")
	}
	log.Info().Str("source", fetcher.Name()).Msg("data source ready")
	engine := strategy.NewEngine(cfg.Strategy, fetcher, barcache.NewFileRepository(cfg.Storage.CacheFile),
		strategy.WithLogger(log.With().Str("component", "engine").Logger()))

	// Init portfolio
	pm, err := portfolio.NewManager(cfg.Portfolio.StateFile, cfg.Portfolio.MirrorFile, cfg.Portfolio.Allocation,
		portfolio.WithLocation(loc), portfolio.WithLogger(log.With().Str("component", "portfolio").Logger()))
	if err != nil {
		log.Fatal().Err(err).Msg("init portfolio manager")
	}

	// Init signal chain: remote, last stored, local
	store := provider.NewSignalStore(cfg.Storage.SignalFile)
	local := &provider.LocalProvider{Engine: engine}
	var tiers []provider.Provider
	if cfg.RemoteSignal.BaseURL != "" {
		remote := provider.NewRemoteProvider(cfg.RemoteSignal.BaseURL, cfg.RemoteSignal.APIKey,
			time.Duration(cfg.RemoteSignal.TimeoutSecs)*time.Second, cfg.Proxy)
		remote.Capital = func() float64 { return pm.Portfolio().TotalCapital }
		tiers = append(tiers, remote)
	}
	tiers = append(tiers, store, local)
	chainLog := log.With().Str("component", "provider").Logger()
	chain := provider.NewChain(store, chainLog, tiers...)

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	defer rec.Close()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics listening")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := scheduler.Deps{
		Chain:     chain,
		Local:     provider.NewChain(store, chainLog, local),
		Market:    engine,
		Portfolio: pm,
		Recorder:  rec,
	}
	var tn *notifier.TelegramNotifier
	if cfg.NotifierEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy,
			log.With().Str("component", "telegram").Logger())
		deps.Notifier = tn
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, deps, cfg.ScheduleLocation(), log.With().Str("component", "scheduler").Logger())
	if err := sched.RegisterAll(cfg.Schedule.SignalCron, cfg.Schedule.SnapshotCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Info().Msg("RUN_ON_START enabled, executing signal task now")
		go sched.RunSignalNow()
	}

	log.Info().Msg("RotationSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
}
