package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"payup/internal/cache"
	"payup/internal/cli"
	apphttp "payup/internal/http"
	"payup/internal/log"
	"payup/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	res := cli.InitBackend(context.Background(), logger, cfg)

	// A nil *amqp.Client must not become a non-nil Publisher interface.
	var publisher services.Publisher
	if res.Publisher != nil {
		publisher = res.Publisher
	}

	groups := services.NewGroupService(res.Store, publisher, cli.GroupServiceConfig(logger, cfg), logger)

	caches := cache.NewManager(logger)
	groups.RegisterCaches(caches)

	srv := apphttp.NewServer(":"+cfg.Port, groups, apphttp.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RequestsPerMinute:  cfg.RateLimitPerMinute,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	go func() {
		_ = caches.Run(ctx, cfg.PlanCacheTTL)
	}()

	logger.Info("Starting payup server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"amqp", publisher != nil,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
