// Package events reads the request lifecycle events that the outbox relay
// publishes to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is the envelope written by the relay into the stream's data field.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Timestamp   string         `json:"timestamp"`
	Payload     map[string]any `json:"payload"`
	MessageID   string         `json:"message_id"`
}

type Handler func(ctx context.Context, e Event) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	// Types limits delivery to these event types. Other messages are
	// acknowledged and dropped.
	Types []string
	Block time.Duration
	Count int64
}

// Consumer reads a stream through a consumer group. A message is
// acknowledged once the handler returns nil; failed messages stay pending.
type Consumer struct {
	redis  *redis.Client
	cfg    ConsumerConfig
	logger *slog.Logger
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	return &Consumer{
		redis:  client,
		cfg:    cfg,
		logger: logger.With("component", "event_consumer", "stream", cfg.Stream),
	}
}

// Run consumes until ctx is cancelled and returns ctx.Err().
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group, "consumer", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.process(ctx, msg, handle)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage, handle Handler) {
	event, err := Decode(msg)
	if err != nil {
		c.logger.Error("dropping undecodable message", "message_id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}

	if len(c.cfg.Types) > 0 && !slices.Contains(c.cfg.Types, event.Type) {
		c.ack(ctx, msg.ID)
		return
	}

	if err := handle(ctx, event); err != nil {
		c.logger.Error("failed to process message", "message_id", msg.ID, "type", event.Type, "error", err)
		return
	}
	c.ack(ctx, msg.ID)
}

// ack runs detached from ctx so a handled message is still acknowledged
// during shutdown.
func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.redis.XAck(context.WithoutCancel(ctx), c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "message_id", id, "error", err)
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Decode reads the relay envelope from a stream message.
func Decode(msg redis.XMessage) (Event, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return Event{}, fmt.Errorf("missing data field")
	}

	var e Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Event{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if e.Type == "" {
		if t, ok := msg.Values["event_type"].(string); ok {
			e.Type = t
		}
	}
	e.MessageID = msg.ID
	return e, nil
}
