package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/discord"
	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/metrics"
	"github.com/discord-companion/internal/openai"
	"github.com/discord-companion/internal/voice"
)

func main() {
	logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Errorw("configuration error", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Pipeline.DataDir, 0o755); err != nil {
		logging.Errorw("failed to create data directory", "dir", cfg.Pipeline.DataDir, "err", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			logging.Infow("metrics endpoint listening", "addr", cfg.Metrics.Address)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorw("metrics endpoint failed", "err", err)
			}
		}()
	}

	ai := openai.NewSession(&cfg.OpenAI, cfg.Pipeline.DataDir)
	registry := voice.NewRegistry(ai, cfg, m)

	bot, err := discord.New(cfg, ai, registry, m)
	if err != nil {
		logging.Errorw("failed to build bot", "err", err)
		os.Exit(1)
	}
	if err := bot.Open(); err != nil {
		logging.Errorw("failed to connect", "err", err)
		os.Exit(1)
	}

	cleanerCtx, cancelCleaner := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	voice.StartAssetCleaner(cleanerCtx, &wg, cfg.Pipeline.DataDir,
		cfg.Pipeline.Retention(), 5*time.Minute, cfg.Pipeline.MaxAssets)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logging.Infow("shutdown signal received, closing resources")

	cancelCleaner()
	wg.Wait()

	if err := bot.Close(); err != nil {
		logging.Warnw("gateway close error", "err", err)
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warnw("metrics endpoint shutdown error", "err", err)
		}
		cancel()
	}
	logging.Infow("shutdown complete")
}
