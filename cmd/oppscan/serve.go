package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/oppscan/internal/cache"
	"github.com/sawpanic/oppscan/internal/config"
	"github.com/sawpanic/oppscan/internal/entitlement"
	httpapi "github.com/sawpanic/oppscan/internal/interfaces/http"
	"github.com/sawpanic/oppscan/internal/kv"
	"github.com/sawpanic/oppscan/internal/lookup"
	"github.com/sawpanic/oppscan/internal/metrics"
	"github.com/sawpanic/oppscan/internal/persistence/postgres"
	"github.com/sawpanic/oppscan/internal/ratelimit"
	"github.com/sawpanic/oppscan/internal/scan"
	"github.com/sawpanic/oppscan/internal/session"
	"github.com/sawpanic/oppscan/internal/strategy"
	"github.com/sawpanic/oppscan/internal/universe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an API worker",
	Long: `Start one stateless API worker. Any number of workers may run against
the same Redis store; scan ids registered by one worker resolve on all of them.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	m, registry := metrics.New()

	kvClient := kv.New(cfg.Redis)
	kvClient.OnRetry(m.StoreRetries.Inc)
	store := cache.NewResultStore(kvClient)
	lookups := lookup.NewRegistry(kvClient, m)

	limiter := ratelimit.New(cfg.Downstream.RPS, cfg.Downstream.Burst)
	data := strategy.NewSyntheticMarketData(limiter)
	strategies := strategy.NewRegistry(
		&strategy.Momentum{Data: data},
		&strategy.VolumeSurge{Data: data},
		&strategy.MeanReversion{Data: data},
	)

	scheduler := scan.NewScheduler(scan.Config{
		Budget:             cfg.Scan.Budget,
		MinStrategyTimeout: cfg.Scan.MinStrategyTimeout,
		MaxStrategyTimeout: cfg.Scan.MaxStrategyTimeout,
		Concurrency:        cfg.Scan.Concurrency,
		CacheTTL:           cfg.Scan.CacheTTL,
	}, store, m)

	var archive session.Archiver
	if cfg.Archive.Enabled {
		db, err := postgres.Open(cfg.Archive)
		if err != nil {
			return err
		}
		defer db.Close()
		archive = postgres.NewScanArchive(db, cfg.Archive.QueryTimeout)
		log.Info().Msg("scan archive enabled")
	}

	manager := session.NewManager(store, lookups, scheduler, strategies,
		universe.NewStatic(), entitlement.AllowAll{}, archive, m, cfg.Scan)

	handlers := httpapi.NewHandlers(manager, store, m)
	server, err := httpapi.NewServer(cfg.HTTP, handlers, registry)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
