package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/mediactl/internal/admin"
	"github.com/danmuck/mediactl/internal/config"
	"github.com/danmuck/mediactl/internal/logging"
	"github.com/danmuck/mediactl/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mediactl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "mediactl.toml", "path to service config")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.Component("mediactl")

	cfg, err := config.LoadServiceConfig(*configPath)
	if err != nil {
		return err
	}
	settings, err := cfg.WorkerSettings()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	w, err := worker.New(ctx, settings)
	cancel()
	if err != nil {
		return err
	}
	logger.Info().Str("worker_id", w.ID().String()).Msg("engine ready")

	dead := make(chan struct{})
	w.OnDead(func(status worker.ExitStatus) {
		logger.Error().Str("status", status.String()).Msg("engine died unexpectedly")
		close(dead)
	})

	srv := admin.NewServer(w, cfg.AdminListenAddr, cfg.CorsOrigins, logger)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Error().Err(err).Msg("admin server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-dead:
	}

	w.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
