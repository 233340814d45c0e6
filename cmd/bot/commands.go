package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"outline-vpn-bot/internal/admin"
	"outline-vpn-bot/internal/bot"
	"outline-vpn-bot/internal/scheduler"
	"outline-vpn-bot/internal/services"
)

const (
	backupSchedule  = "0 3 * * *"
	backupTimeout   = 5 * time.Minute
	limiterInterval = 10 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the payment webhook and the background jobs",
		RunE:  runServe,
	}
}

func newSyncKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-keys",
		Short: "Run one reconciliation between the ledger and the key server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			r, err := a.syncer.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "remote=%d local=%d remote_deleted=%d remote_failed=%d skipped_young=%d local_deleted=%d local_failed=%d\n",
				r.Remote, r.Local, r.RemoteDeleted, r.RemoteFailed, r.RemoteSkippedYoung, r.LocalDeleted, r.LocalFailed)
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep: expiry warnings and teardown",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			r, err := a.sweeper.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d warned_5_days=%d warned_1_day=%d expired=%d skipped=%d failed=%d\n",
				r.Checked, r.FiveDays, r.OneDay, r.Expired, r.Skipped, r.Failed)
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := services.NewProviderHealth(a.provider, cfg.CallTimeout, a.alert, a.metrics, log)
	payments := services.NewPaymentProcessor(cfg.YooMoneySecret, a.ledger, a.keys, a.out, a.alert, a.metrics, cfg.CallTimeout, log)
	trial := services.NewTrialService(a.ledger, a.keys, log)
	limiter := bot.NewRateLimiter(cfg.AdminTelegramID)
	backups := admin.NewBackups(cfg.BackupDir, cfg.DatabaseURL, a.alert, log)

	jobs := scheduler.New(log, a.alert)
	schedule := []error{
		jobs.Every("sweep", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := a.sweeper.Run(ctx)
			return err
		}),
		jobs.Every("sync_keys", cfg.SyncInterval, func(ctx context.Context) error {
			_, err := a.syncer.Run(ctx)
			return err
		}),
		jobs.Every("provider_health", cfg.HealthInterval, func(ctx context.Context) error {
			if st := health.Check(ctx); !st.Online {
				return errors.New(st.Error)
			}
			return nil
		}),
		jobs.Every("ratelimit_gc", limiterInterval, func(context.Context) error {
			limiter.Forget(limiterInterval)
			return nil
		}),
		jobs.Cron("backup", backupSchedule, backupTimeout, backups.Auto),
	}
	if err := errors.Join(schedule...); err != nil {
		return err
	}
	jobs.Start()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      services.NewRouter(log, a.registry, payments, a.alert),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.CallTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("address", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	handler := bot.NewHandler(bot.HandlerConfig{
		API:           a.botAPI,
		Subscriptions: a.ledger,
		Trial:         trial,
		Links:         services.NewPaymentLinks(cfg.YooMoneyWallet, cfg.NotificationURL),
		Admin: admin.NewHandler(admin.Config{
			API:     a.botAPI,
			AdminID: cfg.AdminTelegramID,
			Stats:   a.ledger,
			Sync:    a.syncer,
			Sweep:   a.sweeper,
			Health:  health,
			Backups: backups,
		}, log),
		Limiter:        limiter,
		Alert:          a.alert,
		SupportContact: cfg.SupportContact,
	}, log)
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		bot.Run(ctx, a.botAPI, handler)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("http server failed", zap.Error(err))
		a.alert.Notify("HTTP server stopped: " + err.Error())
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http server forced to shutdown", zap.Error(serr))
	}
	jobs.Stop(shutdownCtx)
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
	}
	log.Info("stopped")
	return err
}
