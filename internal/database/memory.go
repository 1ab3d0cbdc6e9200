package database

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/models"
)

// DefaultStores is the catalog seeded by schema.sql.
func DefaultStores() []models.Store {
	return []models.Store{
		{ID: 1, Name: "amazon", UsesProxies: true},
		{ID: 2, Name: "aliexpress", UsesProxies: true},
		{ID: 3, Name: "ebay", UsesProxies: false},
		{ID: 4, Name: "target", UsesProxies: false},
		{ID: 5, Name: "walmart", UsesProxies: true},
	}
}

// MemoryRepository keeps everything in process memory. It serves local runs
// without Postgres and the tests. Values are copied in and out so callers
// never share state with the store.
type MemoryRepository struct {
	mu        sync.RWMutex
	stores    map[string]models.Store
	keys      map[string]models.APIKey
	requests  map[uuid.UUID]models.Request
	products  map[uuid.UUID][]models.Product
	outcomes  map[uuid.UUID]map[int64]models.StoreOutcome
	nextKeyID int64
	now       func() time.Time
}

// NewMemoryRepository seeds the default catalog and one active key per token.
func NewMemoryRepository(tokens ...string) *MemoryRepository {
	m := &MemoryRepository{
		stores:   make(map[string]models.Store),
		keys:     make(map[string]models.APIKey),
		requests: make(map[uuid.UUID]models.Request),
		products: make(map[uuid.UUID][]models.Product),
		outcomes: make(map[uuid.UUID]map[int64]models.StoreOutcome),
		now:      time.Now,
	}
	m.SetStores(DefaultStores()...)
	for _, t := range tokens {
		m.AddAPIKey(t, true)
	}
	return m
}

// SetStores replaces the catalog.
func (m *MemoryRepository) SetStores(stores ...models.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stores = make(map[string]models.Store, len(stores))
	for _, s := range stores {
		m.stores[s.Name] = s
	}
}

func (m *MemoryRepository) AddAPIKey(token string, active bool) models.APIKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[token]; ok {
		key.IsActive = active
		m.keys[token] = key
		return key
	}
	m.nextKeyID++
	key := models.APIKey{ID: m.nextKeyID, Token: token, IsActive: active}
	m.keys[token] = key
	return key
}

func (m *MemoryRepository) GetStores(ctx context.Context) (map[string]models.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stores := make(map[string]models.Store, len(m.stores))
	for name, s := range m.stores {
		stores[name] = s
	}
	return stores, nil
}

func (m *MemoryRepository) ValidateAPIKey(ctx context.Context, token string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[token]
	if !ok || !key.IsActive {
		return nil, models.ErrUnauthorized
	}
	return &key, nil
}

func (m *MemoryRepository) CreateRequest(ctx context.Context, apiKeyID int64, keyword string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	req := models.Request{
		ID:        uuid.New(),
		APIKeyID:  apiKeyID,
		Keyword:   keyword,
		Status:    models.StatusToDo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.requests[req.ID] = req
	return &req, nil
}

func (m *MemoryRepository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return models.ErrRequestNotFound
	}
	if !req.Status.CanAdvanceTo(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, req.Status, status)
	}
	req.Status = status
	req.UpdatedAt = m.now()
	m.requests[id] = req
	return nil
}

func (m *MemoryRepository) GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, models.ErrRequestNotFound
	}
	return &req, nil
}

func (m *MemoryRepository) PendingRequests(ctx context.Context, limit int) ([]*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*models.Request
	for _, req := range m.requests {
		if req.Status == models.StatusToDo {
			r := req
			pending = append(pending, &r)
		}
	}
	slices.SortFunc(pending, func(a, b *models.Request) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MemoryRepository) SaveProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range products {
		if _, ok := m.requests[p.RequestID]; !ok {
			return fmt.Errorf("failed to save products: %w", models.ErrRequestNotFound)
		}
	}
	for _, p := range products {
		m.products[p.RequestID] = append(m.products[p.RequestID], p)
	}
	return nil
}

func (m *MemoryRepository) GetProducts(ctx context.Context, requestID uuid.UUID) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.Product{}, m.products[requestID]...), nil
}

func (m *MemoryRepository) DeleteProducts(ctx context.Context, requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.products, requestID)
	return nil
}

func (m *MemoryRepository) SaveOutcome(ctx context.Context, o models.StoreOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[o.RequestID]; !ok {
		return fmt.Errorf("failed to save store outcome: %w", models.ErrRequestNotFound)
	}
	byStore, ok := m.outcomes[o.RequestID]
	if !ok {
		byStore = make(map[int64]models.StoreOutcome)
		m.outcomes[o.RequestID] = byStore
	}
	byStore[o.StoreID] = o
	return nil
}

func (m *MemoryRepository) GetOutcomes(ctx context.Context, requestID uuid.UUID) ([]models.StoreOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outcomes := []models.StoreOutcome{}
	for _, o := range m.outcomes[requestID] {
		outcomes = append(outcomes, o)
	}
	slices.SortFunc(outcomes, func(a, b models.StoreOutcome) int {
		return cmp.Compare(a.StoreID, b.StoreID)
	})
	return outcomes, nil
}

func (m *MemoryRepository) Health(ctx context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"driver":   "memory",
		"requests": len(m.requests),
	}, nil
}
