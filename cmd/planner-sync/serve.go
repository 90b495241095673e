package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"planner-sync/internal/api"
	"planner-sync/internal/bot"
	"planner-sync/internal/config"
	"planner-sync/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sync API and, when TELEGRAM_TOKEN is set, the companion bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	out, closeLog := setupLogging(cfg)
	defer closeLog()

	store, err := openStore(cfg, out)
	if err != nil {
		return err
	}
	defer store.Close()

	instanceSvc := service.NewInstanceService(store)
	taskSvc := service.NewTaskService(store, instanceSvc)
	statsSvc := service.NewStatsService(store)

	app := api.New(api.Services{
		Sync:      service.NewSyncService(store).WithPullLag(cfg.RequestTimeout),
		Instances: instanceSvc,
		Plans:     service.NewPlanService(store),
		Tasks:     taskSvc,
		Sessions:  service.NewSessionService(store),
		Stats:     statsSvc,
		Health:    store.Ping,
	}, api.Options{
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
		SkipLogPaths:   []string{"/health"},
	})

	if cfg.TelegramToken != "" {
		reminderSvc := service.NewReminderService(taskSvc, statsSvc)
		telegramBot, err := bot.New(cfg.TelegramToken, store.Repos().Users, taskSvc, reminderSvc, cfg.JWTSecret, cfg.Location, cfg.RequestTimeout)
		if err != nil {
			return fmt.Errorf("bot: %w", err)
		}

		scheduler := service.NewSchedulerService(cfg.Location, time.Minute)
		if _, err := scheduler.ScheduleDaily("daily-report", cfg.ReportTime, telegramBot.SendDailyReports); err != nil {
			return fmt.Errorf("schedule reports: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()

		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[error] bot stopped: %v", err)
			}
		}()
		log.Printf("[info] telegram bot started, daily report at %s %s", cfg.ReportTime, cfg.Location)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[info] listening on %s", cfg.HTTPAddr)
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}

	log.Println("[info] shutting down")
	if err := app.Shutdown(); err != nil {
		log.Printf("[warn] http shutdown: %v", err)
	}
	log.Println("Shutdown complete.")
	return nil
}
