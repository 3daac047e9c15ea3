// Command bot runs the finance assistant on Matrix.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/dvloznov/finance-assistant/internal/app"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/matrix"
	"github.com/dvloznov/finance-assistant/internal/retry"
)

// publishTimeout bounds how long the sync loop waits for queue space.
const publishTimeout = 5 * time.Second

func main() {
	queueSize := flag.Int("queue", 100, "Maximum number of buffered messages")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, logCloser, err := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	defer logCloser.Close()

	if err := cfg.Validate(config.TargetBot); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
	}()

	client, err := matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		SyncFile:    cfg.Matrix.SyncFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Matrix client")
	}
	if err := retry.Do(ctx, retry.Startup, "matrix whoami", client.Whoami); err != nil {
		log.Fatal().Err(err).Msg("Failed to reach homeserver")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(*queueSize, cfg.Workers, jobStore)
	if err := jobQueue.Start(ctx, app.JobHandler(a.Service, client)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workers")
	}

	onMessage := func(ctx context.Context, msg matrix.Message) {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := jobQueue.Publish(pubCtx, msg.Job()); err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).
				Str("room_id", msg.RoomID).
				Str("event_id", msg.EventID).
				Msg("Dropping message, queue unavailable")
		}
	}
	if err := client.Start(ctx, onMessage, a.Service.Allowed); err != nil {
		log.Fatal().Err(err).Msg("Failed to start Matrix sync")
	}
	log.Info().Str("user_id", cfg.Matrix.UserID).Int("workers", cfg.Workers).Msg("Bot started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down bot...")

	client.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancel()

	log.Info().Msg("Bot exited")
}
