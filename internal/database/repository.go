package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/store-scraper/internal/models"
)

// Repository is the Postgres backed request store. Every status change and
// product batch writes its outbox event in the same transaction.
type Repository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewRepository(db *DB, outbox *OutboxRepository) *Repository {
	return &Repository{db: db, outbox: outbox}
}

type statusChangedPayload struct {
	RequestID string `json:"request_id"`
	Keyword   string `json:"keyword,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
}

type batchSavedPayload struct {
	RequestID string         `json:"request_id"`
	Count     int            `json:"count"`
	Stores    map[string]int `json:"stores"`
}

func (r *Repository) GetStores(ctx context.Context) (map[string]models.Store, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, uses_proxies FROM stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	stores := make(map[string]models.Store)
	for rows.Next() {
		var s models.Store
		if err := rows.Scan(&s.ID, &s.Name, &s.UsesProxies); err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores[s.Name] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stores: %w", err)
	}
	return stores, nil
}

func (r *Repository) ValidateAPIKey(ctx context.Context, token string) (*models.APIKey, error) {
	key := &models.APIKey{}
	err := r.db.QueryRow(ctx,
		`SELECT id, token, is_active FROM api_keys WHERE token = $1`, token,
	).Scan(&key.ID, &key.Token, &key.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate api key: %w", err)
	}
	if !key.IsActive {
		return nil, models.ErrUnauthorized
	}
	return key, nil
}

func (r *Repository) CreateRequest(ctx context.Context, apiKeyID int64, keyword string) (*models.Request, error) {
	req := &models.Request{
		ID:       uuid.New(),
		APIKeyID: apiKeyID,
		Keyword:  keyword,
		Status:   models.StatusToDo,
	}

	event, err := NewRequestEvent(req.ID, EventRequestStatusChanged, statusChangedPayload{
		RequestID: req.ID.String(),
		Keyword:   keyword,
		To:        string(models.StatusToDo),
	})
	if err != nil {
		return nil, err
	}

	err = r.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO requests (id, api_key_id, keyword, status)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at`,
			req.ID, req.APIKeyID, req.Keyword, req.Status,
		).Scan(&req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateRequestStatus moves a request one step forward. The update is
// conditional on the previous status, so concurrent callers cannot move a
// request backwards or skip a step.
func (r *Repository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus) error {
	prev, ok := status.Previous()
	if !ok {
		return fmt.Errorf("%w: cannot move to %q", models.ErrInvalidTransition, status)
	}

	event, err := NewRequestEvent(id, EventRequestStatusChanged, statusChangedPayload{
		RequestID: id.String(),
		From:      string(prev),
		To:        string(status),
	})
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE requests SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3`,
			status, id, prev)
		if err != nil {
			return fmt.Errorf("failed to update request status: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var current models.RequestStatus
			err := tx.QueryRow(ctx, `SELECT status FROM requests WHERE id = $1`, id).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrRequestNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to read request status: %w", err)
			}
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, status)
		}

		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	req := &models.Request{}
	err := r.db.QueryRow(ctx, `
		SELECT id, api_key_id, keyword, status, created_at, updated_at
		FROM requests WHERE id = $1`, id,
	).Scan(&req.ID, &req.APIKeyID, &req.Keyword, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

func (r *Repository) PendingRequests(ctx context.Context, limit int) ([]*models.Request, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, api_key_id, keyword, status, created_at, updated_at
		FROM requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, models.StatusToDo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.Request
	for rows.Next() {
		req := &models.Request{}
		if err := rows.Scan(&req.ID, &req.APIKeyID, &req.Keyword, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return requests, nil
}

// SaveProducts inserts the batch in one transaction. A batch is all or
// nothing.
func (r *Repository) SaveProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}

	requestID := products[0].RequestID
	perStore := make(map[string]int)
	for _, p := range products {
		perStore[storeLabel(p)]++
	}

	event, err := NewRequestEvent(requestID, EventProductBatchSaved, batchSavedPayload{
		RequestID: requestID.String(),
		Count:     len(products),
		Stores:    perStore,
	})
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range products {
			createdAt := p.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			batch.Queue(`
				INSERT INTO products (
					request_id, store_id, image, title, rating, review_count,
					price, is_best_seller, sales_count, link, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				p.RequestID, p.StoreID, p.Image, p.Title, p.Rating, p.ReviewCount,
				p.Price, p.IsBestSeller, p.SalesCount, p.Link, createdAt)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert products: %w", err)
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

func (r *Repository) GetProducts(ctx context.Context, requestID uuid.UUID) ([]models.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.request_id, p.store_id, s.name, p.image, p.title, p.rating,
		       p.review_count, p.price, p.is_best_seller, p.sales_count, p.link, p.created_at
		FROM products p
		JOIN stores s ON s.id = p.store_id
		WHERE p.request_id = $1
		ORDER BY p.id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		err := rows.Scan(&p.RequestID, &p.StoreID, &p.Store, &p.Image, &p.Title, &p.Rating,
			&p.ReviewCount, &p.Price, &p.IsBestSeller, &p.SalesCount, &p.Link, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}

func (r *Repository) DeleteProducts(ctx context.Context, requestID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM products WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("failed to delete products: %w", err)
	}
	return nil
}

func (r *Repository) SaveOutcome(ctx context.Context, o models.StoreOutcome) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO store_outcomes (
			request_id, store_id, status, products, error, proxy_used, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, store_id) DO UPDATE SET
			status = EXCLUDED.status,
			products = EXCLUDED.products,
			error = EXCLUDED.error,
			proxy_used = EXCLUDED.proxy_used,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		o.RequestID, o.StoreID, o.Status, o.Products, o.Error, o.ProxyUsed, o.StartedAt, o.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save store outcome: %w", err)
	}
	return nil
}

func (r *Repository) GetOutcomes(ctx context.Context, requestID uuid.UUID) ([]models.StoreOutcome, error) {
	rows, err := r.db.Query(ctx, `
		SELECT o.request_id, o.store_id, s.name, o.status, o.products, o.error,
		       o.proxy_used, o.started_at, o.finished_at
		FROM store_outcomes o
		JOIN stores s ON s.id = o.store_id
		WHERE o.request_id = $1
		ORDER BY o.store_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query store outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []models.StoreOutcome{}
	for rows.Next() {
		var o models.StoreOutcome
		err := rows.Scan(&o.RequestID, &o.StoreID, &o.Store, &o.Status, &o.Products, &o.Error,
			&o.ProxyUsed, &o.StartedAt, &o.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating store outcomes: %w", err)
	}
	return outcomes, nil
}

// Health pings the pool and reports the outbox backlog.
func (r *Repository) Health(ctx context.Context) (map[string]any, error) {
	if err := r.db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	pending, deadLetter, err := r.outbox.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"driver":             "postgres",
		"outbox_pending":     pending,
		"outbox_dead_letter": deadLetter,
	}, nil
}

func storeLabel(p models.Product) string {
	if p.Store != "" {
		return p.Store
	}
	return strconv.FormatInt(p.StoreID, 10)
}
