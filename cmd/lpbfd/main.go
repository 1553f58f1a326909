package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/config"
	"lpbf-planner/internal/api"
	"lpbf-planner/internal/audit"
	"lpbf-planner/internal/db"
	"lpbf-planner/internal/drafting"
	"lpbf-planner/internal/estimation"
	"lpbf-planner/internal/inquiry"
	"lpbf-planner/internal/metrics"
	"lpbf-planner/internal/nesting"
	"lpbf-planner/internal/notification"
	"lpbf-planner/internal/pricing"
	"lpbf-planner/internal/store"
)

func rateTable(p config.PricingConfig) pricing.RateTable {
	t := pricing.RateTable{
		Rates:   make(map[string]pricing.Rate, len(p.Rates)),
		Default: pricing.Rate{PlatformSetupEUR: p.DefaultRate.PlatformSetupEUR, SharedTimeH: p.DefaultRate.SharedTimeH},
	}
	for key, r := range p.Rates {
		t.Rates[key] = pricing.Rate{PlatformSetupEUR: r.PlatformSetupEUR, SharedTimeH: r.SharedTimeH}
	}
	return t
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatalf("failed to load configuration from %s", configPath)
	}
	config.ConfigureLogging(cfg.Log)
	log.WithField("path", configPath).Info("configuration loaded")

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		log.Warn("VAPID keys are not configured; operator push alerts are disabled")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)
	recorder := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without a drafting service, drafts come from the local template and
	// decision rationales from the generated summary.
	var (
		drafter  drafting.Drafter = drafting.TemplateDrafter{Signature: cfg.Drafting.Signature}
		reasoner audit.Reasoner
	)
	if cfg.Drafting.BaseURL != "" {
		client := drafting.NewClient(cfg.Drafting)
		drafter, reasoner = client, client
	} else {
		log.Info("no drafting service configured; using template drafts")
	}

	pool := notification.NewWorkerPool(cfg.WorkerPool, appStore, drafter, webpushOptions, recorder)
	pool.Start(ctx)

	engine := nesting.NewEngine(nesting.Deps{
		Store:      appStore,
		Calculator: pricing.NewAmortizedCalculator(rateTable(cfg.Pricing)),
		Reasoner:   reasoner,
		Notifier:   pool,
		Metrics:    recorder,
	}, nesting.Config{
		MaxAttempts:      cfg.Allocation.MaxAttempts,
		MatchMachine:     *cfg.Allocation.MatchMachine,
		ReasoningTimeout: cfg.Allocation.ReasoningTimeout,
		Threshold: pricing.Threshold{
			MinEUR:     *cfg.Pricing.NotifyMinReductionEUR,
			MinPercent: cfg.Pricing.NotifyMinReductionPct,
		},
	})

	intake := inquiry.NewService(appStore, estimation.NewClient(cfg.Estimation, recorder), cfg.Machines)

	handler := api.NewHandler(api.Deps{
		Store:      appStore,
		Intake:     intake,
		Engine:     engine,
		Dispatcher: pool,
		Machines:   cfg.Machines,
		WebPush:    webpushOptions,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(ctx, handler, cfg.Server, recorder),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown")
	}
	cancel()

	log.Info("server gracefully stopped")
}
