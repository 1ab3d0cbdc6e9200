package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relaySource = "store-scraper"

// RedisClient is the part of go-redis the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay publishes outbox events to Redis streams.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processEvents(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processEvents(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
		}
	}
}

func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("processing events", "count", len(events))

	for _, event := range events {
		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to process event",
				"event_id", event.ID,
				"request_id", event.AggregateID,
				"error", err)
		}
	}

	return nil
}

func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	if err := r.publishToRedis(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed",
				"event_id", event.ID,
				"error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		r.logger.Error("failed to mark event as processed",
			"event_id", event.ID,
			"error", err)
		return err
	}

	r.logger.Debug("event published",
		"event_id", event.ID,
		"event_type", event.EventType,
		"request_id", event.AggregateID,
		"target_stream", event.TargetStream)

	return nil
}

func (r *Relay) publishToRedis(ctx context.Context, event *OutboxEvent) error {
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	envelope := map[string]any{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]any{
			"source":      relaySource,
			"outbox_id":   event.ID.String(),
			"retry_count": event.RetryCount,
		},
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal stream data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"data":         string(data),
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
			"timestamp":    strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		},
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}
