package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maltedev/store-scraper/internal/api"
	"github.com/maltedev/store-scraper/internal/database"
	"github.com/maltedev/store-scraper/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and process submitted keywords in the background",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "Listen port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup

	if a.outbox != nil && cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		relay := database.NewRelay(a.outbox, redisClient, logger, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	} else {
		logger.Info("outbox relay disabled", "redis_configured", cfg.Redis.Addr != "")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.manager.StartWorker(ctx)
	}()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go limiter.Run(ctx, 5*time.Minute, time.Hour)

	handlers := api.NewHandlers(a.manager, a.health, limiter, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	wg.Wait()
	logger.Info("server stopped")
	return nil
}
