package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/config"
	"github.com/vitos/account_monitor/internal/domain"
	"github.com/vitos/account_monitor/internal/infrastructure/exchange"
	"github.com/vitos/account_monitor/internal/infrastructure/logger"
	"github.com/vitos/account_monitor/internal/infrastructure/notify"
	"github.com/vitos/account_monitor/internal/infrastructure/storage"
	"github.com/vitos/account_monitor/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Ledger.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	adapter := exchange.NewBybitAdapter(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint,
		cfg.Exchange.WSEndpoint,
		log,
	)

	ledger := usecase.NewLedger(store, log)
	pnl := usecase.NewPnLEngine(ledger, log)
	reconciler := usecase.NewReconciler(ledger, adapter, cfg.Reconciliation, store, log)
	notifier := notify.NewWebhookNotifier(cfg.Alerts.WebhookURL, log)
	alerts := usecase.NewAlertService(cfg.Alerts, notifier, store, log)
	monitor := usecase.NewMonitor(ledger, pnl, reconciler, alerts, store, cfg.Alerts, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter.OnFill(func(fill domain.Fill) {
		monitor.HandleFill(ctx, fill)
	})
	go adapter.Start(ctx)

	go func() {
		if err := monitor.Start(ctx); err != nil {
			log.Error("Monitor stopped with error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
}
