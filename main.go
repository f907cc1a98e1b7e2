package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"kospi-sniper-bot/config"
	"kospi-sniper-bot/internal/database"
	"kospi-sniper-bot/internal/engine"
	"kospi-sniper-bot/internal/kiwoom"
	"kospi-sniper-bot/internal/logging"
	"kospi-sniper-bot/internal/metrics"
	"kospi-sniper-bot/internal/notification"
	"kospi-sniper-bot/internal/regime"
	"kospi-sniper-bot/internal/scanner"
	signalcfg "kospi-sniper-bot/internal/signal"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// Secrets come from the environment; a local .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	runtime := config.NewRuntime(*configPath, cfg)

	logger := logging.New(logging.Config{
		Level:  cfg.LoggingConfig.Level,
		Pretty: cfg.LoggingConfig.Pretty,
	})
	logger.Info().Str("config", *configPath).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP swaps the config snapshot in place; live collaborators keep
	// their session parameters, so a reload takes full effect next session.
	go watchReload(runtime)

	if cfg.MetricsConfig.Enabled {
		go serveMetrics(cfg.MetricsConfig.Addr)
	}

	// PostgreSQL holds the day's recommendations; without it there is
	// nothing to trade.
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)

	var redisClient *redis.Client
	if cfg.RedisConfig.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer redisClient.Close()
	}
	mirror := database.NewRedisStatusMirror(redisClient)
	recorder := database.NewStatusRecorder(repo, mirror)

	notifier := notification.NewManager(notification.Config{
		Enabled:     cfg.NotificationConfig.Enabled,
		BotToken:    cfg.NotificationConfig.BotToken,
		ChatID:      cfg.NotificationConfig.ChatID,
		AdminChatID: cfg.NotificationConfig.AdminChatID,
	}, logger)
	defer notifier.Stop()

	client := kiwoom.NewClient(kiwoom.ClientConfig{
		BaseURL:     cfg.KiwoomConfig.BaseURL,
		AppKey:      cfg.KiwoomConfig.AppKey,
		SecretKey:   cfg.KiwoomConfig.SecretKey,
		CallTimeout: cfg.KiwoomConfig.CallTimeout(),
	}, notifier, logger)

	if err := client.Authenticate(ctx); err != nil {
		log.Fatalf("Failed to authenticate with Kiwoom: %v", err)
	}
	defer client.RevokeToken(context.Background())

	market := regime.Detect(ctx, client, cfg.TradingConfig.RegimeIndexCode, logger)

	stream := kiwoom.NewStream(cfg.KiwoomConfig.WebsocketURL, client.Token(), nil, logger)
	if err := stream.Start(ctx); err != nil {
		log.Fatalf("Failed to start market feed: %v", err)
	}
	defer stream.Close()

	targets, err := repo.ActiveTargets(ctx, time.Now())
	if err != nil {
		log.Fatalf("Failed to load targets: %v", err)
	}
	if len(targets) == 0 {
		logger.Warn().Msg("no targets for today, exiting")
		return
	}

	sc := scanner.New(repo, scanner.Config{
		MinProb: cfg.ScannerConfig.MinScore,
	}, logger)

	eng := engine.New(
		engineConfig(cfg),
		signalConfig(cfg),
		market,
		stream, client, notifier, recorder, sc,
		logger,
	)
	eng.Restore(targets)

	notifier.Broadcast("🚀 Session starting: " + time.Now().Format("2006-01-02"))

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("engine stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

func engineConfig(cfg *config.Config) engine.Config {
	cutoff, _ := cfg.SessionCutoff()
	return engine.Config{
		TickInterval:     time.Second,
		SnapshotMaxAge:   time.Duration(cfg.FeedConfig.SnapshotStalenessSec) * time.Second,
		FeedMaxStaleness: time.Duration(cfg.FeedConfig.MaxStalenessSec) * time.Second,
		PendingTimeout:   time.Duration(cfg.TradingConfig.PendingTimeoutSec) * time.Second,
		SessionCutoff: time.Duration(cutoff.Hour())*time.Hour +
			time.Duration(cutoff.Minute())*time.Minute +
			time.Duration(cutoff.Second())*time.Second,
		BudgetRatio:         cfg.TradingConfig.BudgetRatio,
		TrailingActivatePct: cfg.TradingConfig.TrailingActivatePct,
		TrailingDrawdownPct: cfg.TradingConfig.TrailingDrawdownPct,
		ProfitFloorPct:      cfg.TradingConfig.ProfitFloorPct,
		StopLossBullPct:     cfg.TradingConfig.StopLossBullPct,
		StopLossBearPct:     cfg.TradingConfig.StopLossBearPct,
		StopLossBreakoutPct: cfg.TradingConfig.StopLossBreakoutPct,
		StopLossBottomPct:   cfg.TradingConfig.StopLossBottomPct,
		ScannerEnabled:      cfg.ScannerConfig.Enabled,
		MinWatching:         cfg.ScannerConfig.MinWatching,
		RescanInterval:      time.Duration(cfg.ScannerConfig.RescanIntervalSec) * time.Second,
		DryRun:              cfg.TradingConfig.DryRun,
	}
}

func signalConfig(cfg *config.Config) signalcfg.Config {
	return signalcfg.Config{
		EntryScore:               cfg.SignalConfig.EntryScore,
		HighProbThreshold:        cfg.SignalConfig.HighProbThreshold,
		ShootingIntensity:        cfg.SignalConfig.ShootingIntensity,
		ShootingIntensityLowProb: cfg.SignalConfig.ShootingIntensityLowProb,
		MinNotional:              cfg.SignalConfig.MinNotional,
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

func watchReload(runtime *config.Runtime) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := runtime.Reload(); err != nil {
			log.Printf("Config reload failed, keeping previous: %v", err)
		} else {
			log.Printf("Config reloaded, applies from next session")
		}
	}
}
