package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_APIKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository("live-key")
	repo.AddAPIKey("revoked-key", false)

	key, err := repo.ValidateAPIKey(ctx, "live-key")
	require.NoError(t, err)
	assert.True(t, key.IsActive)
	assert.Equal(t, int64(1), key.ID)

	_, err = repo.ValidateAPIKey(ctx, "revoked-key")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = repo.ValidateAPIKey(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestMemoryRepository_Stores(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	stores, err := repo.GetStores(ctx)
	require.NoError(t, err)
	assert.Len(t, stores, 5)
	assert.Equal(t, int64(3), stores["ebay"].ID)
	assert.False(t, stores["ebay"].UsesProxies)
	assert.True(t, stores["amazon"].UsesProxies)

	stores["ebay"] = models.Store{ID: 99}
	again, err := repo.GetStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), again["ebay"].ID, "callers must not mutate the catalog")

	repo.SetStores()
	empty, err := repo.GetStores(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryRepository_StatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	req, err := repo.CreateRequest(ctx, 1, "ssd")
	require.NoError(t, err)
	assert.Equal(t, models.StatusToDo, req.Status)

	tests := []struct {
		name    string
		to      models.RequestStatus
		wantErr error
		want    models.RequestStatus
	}{
		{"skip to done", models.StatusDone, models.ErrInvalidTransition, models.StatusToDo},
		{"start", models.StatusWorking, nil, models.StatusWorking},
		{"back to to-do", models.StatusToDo, models.ErrInvalidTransition, models.StatusWorking},
		{"repeat working", models.StatusWorking, models.ErrInvalidTransition, models.StatusWorking},
		{"finish", models.StatusDone, nil, models.StatusDone},
		{"back to working", models.StatusWorking, models.ErrInvalidTransition, models.StatusDone},
		{"unknown status", models.RequestStatus("paused"), models.ErrInvalidTransition, models.StatusDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.UpdateRequestStatus(ctx, req.ID, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got, err := repo.GetRequest(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}

	err = repo.UpdateRequestStatus(ctx, uuid.New(), models.StatusWorking)
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestMemoryRepository_ConcurrentStartOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	req, err := repo.CreateRequest(ctx, 1, "ssd")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.UpdateRequestStatus(ctx, req.ID, models.StatusWorking) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestMemoryRepository_PendingRequests(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, _ := repo.CreateRequest(ctx, 1, "first")
	second, _ := repo.CreateRequest(ctx, 1, "second")
	third, _ := repo.CreateRequest(ctx, 1, "third")
	require.NoError(t, repo.UpdateRequestStatus(ctx, second.ID, models.StatusWorking))

	pending, err := repo.PendingRequests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)

	limited, err := repo.PendingRequests(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, first.ID, limited[0].ID)
}

func TestMemoryRepository_ProductsAndOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	req, err := repo.CreateRequest(ctx, 1, "ssd")
	require.NoError(t, err)

	empty, err := repo.GetProducts(ctx, req.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	batch := []models.Product{
		{RequestID: req.ID, StoreID: 3, Store: "ebay", Title: "a", Price: 10},
		{RequestID: req.ID, StoreID: 3, Store: "ebay", Title: "b", Price: 11},
	}
	require.NoError(t, repo.SaveProducts(ctx, batch))
	require.NoError(t, repo.SaveProducts(ctx, nil))

	products, err := repo.GetProducts(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, batch, products)

	orphan := []models.Product{{RequestID: uuid.New(), StoreID: 3, Price: 1}}
	assert.ErrorIs(t, repo.SaveProducts(ctx, orphan), models.ErrRequestNotFound)

	require.NoError(t, repo.SaveOutcome(ctx, models.StoreOutcome{RequestID: req.ID, StoreID: 4, Store: "target", Status: models.OutcomeFailed}))
	require.NoError(t, repo.SaveOutcome(ctx, models.StoreOutcome{RequestID: req.ID, StoreID: 3, Store: "ebay", Status: models.OutcomeSucceeded, Products: 2}))
	require.NoError(t, repo.SaveOutcome(ctx, models.StoreOutcome{RequestID: req.ID, StoreID: 4, Store: "target", Status: models.OutcomeSucceeded}))

	outcomes, err := repo.GetOutcomes(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, int64(3), outcomes[0].StoreID)
	assert.Equal(t, models.OutcomeSucceeded, outcomes[1].Status, "later outcome for a store replaces the earlier one")

	require.NoError(t, repo.DeleteProducts(ctx, req.ID))
	products, err = repo.GetProducts(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestMemoryRepository_GetRequestNotFound(t *testing.T) {
	_, err := NewMemoryRepository().GetRequest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}
