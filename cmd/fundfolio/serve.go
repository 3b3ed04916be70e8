package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/aristath/fundfolio/internal/di"
	"github.com/aristath/fundfolio/internal/scheduler"
	"github.com/aristath/fundfolio/internal/server"
	"github.com/aristath/fundfolio/internal/telegram"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the scheduler and the Telegram bot",
	Long: `Starts the HTTP API, schedules the price refresh, maintenance and backup
jobs, and connects the Telegram bot when FUNDFOLIO_TELEGRAM_TOKEN is set.
A price refresh runs once at startup.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("Starting fundfolio")

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	sched := scheduler.New(log)
	if err := di.ScheduleJobs(sched, jobs, cfg); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if err := jobs.RefreshPrices.RefreshAsync(); err != nil {
		log.Warn().Err(err).Msg("Startup price refresh not started")
	}

	srvCfg := server.Config{
		Log:        log,
		Port:       cfg.Port,
		DataDir:    cfg.DataDir,
		Databases:  container.Databases(),
		Gatherer:   container.Registry,
		Optimizer:  container.OptimizationService,
		RunTimeout: cfg.Optimizer.RunTimeout,
		Reference:  container.Reference,
		Cache:      container.PriceCache,
		Charts:     container.ChartService,
		Users:      container.UserRepo,
		Refresh:    jobs.RefreshPrices,
	}

	if cfg.Telegram.Token != "" {
		api, err := telegram.Connect(cfg.Telegram.Token, cfg.Telegram.WebhookURL, log)
		if err != nil {
			return err
		}
		bot := telegram.NewBot(api, container.OptimizationService, container.UserRepo, cfg.Optimizer.RunTimeout, log)
		srvCfg.Bot = bot
		if cfg.Telegram.WebhookURL != "" {
			srvCfg.Webhook = bot.WebhookHandler
		} else {
			go bot.Poll(ctx, api)
		}
	} else {
		log.Info().Msg("Telegram token not set, bot disabled")
	}

	srv := server.New(srvCfg)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
		cancel()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
	return nil
}
