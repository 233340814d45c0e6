package main

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"outline-vpn-bot/config"
	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
	"outline-vpn-bot/internal/messenger"
	"outline-vpn-bot/internal/outline"
	"outline-vpn-bot/internal/services"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	botAPI   *tgbotapi.BotAPI
	alert    *logger.AdminNotifier
	ledger   *db.Ledger
	registry *prometheus.Registry
	metrics  *services.Metrics
	provider *outline.Client
	out      *messenger.Telegram
	keys     *services.KeyIssuer
	sweeper  *services.Sweeper
	syncer   *services.Reconciler
	closeDB  func() error
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	ledger := db.NewLedger(gdb, db.WithFlagResetOnRenew(cfg.ResetFlagsOnRenew))

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.CallTimeout + 65*time.Second})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	alert := logger.NewAdminNotifier(botAPI, cfg.AdminTelegramID, log)

	provider, err := outline.New(cfg.OutlineAPIURL, cfg.OutlineCertSHA256, cfg.CallTimeout)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	out := messenger.NewTelegram(botAPI)
	keys := services.NewKeyIssuer(provider, cfg.CallTimeout, log)
	sweeper := services.NewSweeper(ledger, keys, out, alert, metrics, services.SweeperConfig{
		CallTimeout:    cfg.CallTimeout,
		SupportContact: cfg.SupportContact,
	}, log)
	syncer := services.NewReconciler(ledger, keys, metrics, services.DefaultGraceWindow, log)

	log.Info("application wired",
		zap.String("bot", botAPI.Self.UserName),
		zap.Bool("reset_flags_on_renew", cfg.ResetFlagsOnRenew))
	return &app{
		cfg:      cfg,
		log:      log,
		botAPI:   botAPI,
		alert:    alert,
		ledger:   ledger,
		registry: registry,
		metrics:  metrics,
		provider: provider,
		out:      out,
		keys:     keys,
		sweeper:  sweeper,
		syncer:   syncer,
		closeDB:  sqlDB.Close,
	}, nil
}

func (a *app) close() {
	if err := a.closeDB(); err != nil {
		a.log.Warn("database close failed", zap.Error(err))
	}
	_ = a.log.Sync()
}
