package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed publishes after which an event
	// moves to dead letter.
	MaxRetryCount = 5

	DefaultStream = "stream:scrape_requests"
)

const (
	AggregateRequest = "scrape_request"

	EventRequestStatusChanged = "REQUEST_STATUS_CHANGED"
	EventProductBatchSaved    = "PRODUCT_BATCH_SAVED"
)

// OutboxEvent is written in the same transaction as the change it announces
// and published later by the Relay.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// NewRequestEvent builds an event about request id with payload marshalled
// to JSON.
func NewRequestEvent(id uuid.UUID, eventType string, payload any) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &OutboxEvent{
		AggregateType: AggregateRequest,
		AggregateID:   id.String(),
		EventType:     eventType,
		Payload:       data,
	}, nil
}

type OutboxRepository struct {
	db     *DB
	stream string
}

func NewOutboxRepository(db *DB, stream string) *OutboxRepository {
	if stream == "" {
		stream = DefaultStream
	}
	return &OutboxRepository{db: db, stream: stream}
}

// InsertWithTx inserts an event into the outbox within a transaction.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.AggregateType == "" || event.EventType == "" || len(event.Payload) == 0 {
		return fmt.Errorf("outbox event is missing aggregate type, event type or payload")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = r.stream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending returns pending and retryable events whose backoff has passed,
// oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2)
			AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query,
		OutboxStatusPending, OutboxStatusFailed,
		time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_event
		SET status = $1, processed_at = $2
		WHERE id = $3`

	result, err := r.db.pool.Exec(ctx, query, OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	return nil
}

// MarkFailed records the error and schedules a retry with exponential
// backoff, or moves the event to dead letter once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.pool.QueryRow(ctx,
		"SELECT retry_count FROM outbox_event WHERE id = $1", id).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	query := `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`

	_, err = r.db.pool.Exec(ctx, query, status, retryCount, processErr.Error(), nextRetryTime(retryCount), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// Counts returns the number of events still to publish and the number in
// dead letter.
func (r *OutboxRepository) Counts(ctx context.Context) (pending, deadLetter int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`

	err = r.db.pool.QueryRow(ctx, query,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter).Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}

// nextRetryTime backs off 2, 4, 8 ... seconds, capped at five minutes.
func nextRetryTime(retryCount int) time.Time {
	return time.Now().Add(retryBackoff(retryCount))
}

func retryBackoff(retryCount int) time.Duration {
	if retryCount > 8 {
		return 300 * time.Second
	}
	backoffSeconds := 1 << retryCount
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return time.Duration(backoffSeconds) * time.Second
}
