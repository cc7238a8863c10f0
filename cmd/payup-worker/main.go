package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"payup/internal/cli"
	"payup/internal/log"
	"payup/internal/services"
	"payup/internal/sheets"
	gsheet "payup/internal/sheets/google"
	"payup/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	logger.Info("Starting payup-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	res := cli.InitBackend(context.Background(), logger, cfg)

	var exporter sheets.PlanExporter
	if cfg.SheetsEnabled() {
		client, err := gsheet.NewFromConfig(context.Background(), cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	// The worker only recomputes, so its service never publishes.
	planner := services.NewGroupService(res.Store, nil, cli.GroupServiceConfig(logger, cfg), logger)
	ledgerWorker := worker.NewLedgerWorker(res.Store, planner, exporter, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	if res.Publisher != nil {
		g.Go(func() error {
			err := res.Publisher.ConsumeLedgerChanged(gctx, ledgerWorker.HandleLedgerChanged)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled - relying on periodic recompute only")
	}
	g.Go(func() error {
		return ledgerWorker.Run(gctx, cfg.RecomputeInterval)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		if cerr := res.Cleanup(); cerr != nil {
			logger.Error("Backend cleanup error", log.FieldError, cerr)
		}
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
