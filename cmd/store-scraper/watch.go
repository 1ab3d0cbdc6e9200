package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/store-scraper/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow request lifecycle events on the Redis stream",
	Long: "watch joins a consumer group on REDIS_STREAM and prints every event the\n" +
		"outbox relay publishes as one JSON line.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("group", "store-scraper-watch", "Consumer group name")
	watchCmd.Flags().String("consumer", "", "Consumer name within the group (default: hostname)")
	watchCmd.Flags().String("request-id", "", "Only print events of this request")
	watchCmd.Flags().StringSlice("types", nil, "Only print these event types")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required for watch")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	group, _ := cmd.Flags().GetString("group")
	name, _ := cmd.Flags().GetString("consumer")
	if name == "" {
		name, _ = os.Hostname()
	}
	types, _ := cmd.Flags().GetStringSlice("types")
	requestID, _ := cmd.Flags().GetString("request-id")

	consumer := events.NewConsumer(client, events.ConsumerConfig{
		Stream: cfg.Redis.Stream,
		Group:  group,
		Name:   name,
		Types:  types,
	}, logger)

	err := consumer.Run(ctx, printEvent(cmd.OutOrStdout(), requestID))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printEvent writes events as JSON lines, skipping other requests when
// requestID is set.
func printEvent(out io.Writer, requestID string) events.Handler {
	enc := json.NewEncoder(out)
	return func(ctx context.Context, e events.Event) error {
		if requestID != "" && e.AggregateID != requestID {
			return nil
		}
		return enc.Encode(e)
	}
}
