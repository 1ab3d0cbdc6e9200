package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/database"
	"github.com/maltedev/store-scraper/internal/metrics"
	"github.com/maltedev/store-scraper/internal/models"
	"github.com/maltedev/store-scraper/internal/proxy"
	"github.com/maltedev/store-scraper/internal/scraper"
	"github.com/maltedev/store-scraper/internal/stores"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "key-123"
	keyword   = "ssd"
)

const ebayListing = `<ul>
<li class="s-item"></li>
<li class="s-item"><span class="s-item__title">WD Blue 1TB</span><span class="s-item__price">$39.99</span><a href="https://www.ebay.com/itm/1"></a></li>
<li class="s-item"><span class="s-item__title">Kingston A400</span><span class="s-item__price">$29.99</span></li>
</ul>`

const targetListing = `<div class="jZzlfv">
<div class="dOpyUp"><div title="t"><a href="/p/1">Crucial P3</a></div><div data-test="current-price"><span>$54.00</span></div></div>
<div class="dOpyUp"><span data-test="sponsoredText">Sponsored</span><div data-test="current-price"><span>$10.00</span></div></div>
</div>`

const amazonListing = `<div class="s-main-slot">
<div data-asin="" data-uuid="b1"></div><div data-asin="" data-uuid="b2"></div><div data-asin="" data-uuid="b3"></div>
<div data-asin="" data-uuid="b4"></div><div data-asin="" data-uuid="b5"></div>
<div data-asin="B0X" data-uuid="p1"><h2>Samsung 990 Pro</h2><a class="a-size-base" href="/dp/B0X"><span class="a-offscreen">$119.99</span></a></div>
</div>`

// fakeLauncher serves fixture documents by URL. URLs without a fixture fail
// to load.
type fakeLauncher struct {
	mu       sync.Mutex
	pages    map[string]string
	sessions []browser.SessionOptions
	panicOn  string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{pages: map[string]string{
		stores.Ebay{}.SearchTarget(keyword).URL:   ebayListing,
		stores.Target{}.SearchTarget(keyword).URL: targetListing,
	}}
}

func (l *fakeLauncher) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, opts)
	return &fakeSession{launcher: l}, nil
}

func (l *fakeLauncher) Close() error { return nil }

func (l *fakeLauncher) sessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

type fakeSession struct {
	*browser.DocumentPage
	launcher *fakeLauncher
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.launcher.mu.Lock()
	html, ok := s.launcher.pages[url]
	panicOn := s.launcher.panicOn
	s.launcher.mu.Unlock()

	if panicOn != "" && url == panicOn {
		panic("driver crashed")
	}
	if !ok {
		return errors.New("net::ERR_CONNECTION_REFUSED")
	}
	page, err := browser.NewDocumentPage(html)
	if err != nil {
		return err
	}
	s.DocumentPage = page
	return nil
}

func (s *fakeSession) Close() error { return nil }

type stubProvider struct {
	proxy *proxy.Proxy
	err   error
}

func (p stubProvider) Acquire(context.Context) (*proxy.Proxy, error) {
	return p.proxy, p.err
}

// flakyRepo fails every product save.
type flakyRepo struct {
	*database.MemoryRepository
	saves atomic.Int32
}

func (r *flakyRepo) SaveProducts(ctx context.Context, products []models.Product) error {
	r.saves.Add(1)
	return errors.New("connection refused")
}

type testEnv struct {
	repo     *database.MemoryRepository
	launcher *fakeLauncher
	metrics  *metrics.Metrics
	manager  *Manager
}

func newTestEnv(t *testing.T, repo Repository, provider proxy.Provider, opts Options) *testEnv {
	t.Helper()

	env := &testEnv{
		launcher: newFakeLauncher(),
		metrics:  metrics.New(nil),
	}
	if mem, ok := repo.(*database.MemoryRepository); ok {
		env.repo = mem
	}

	if opts.SaveBackoff == 0 {
		opts.SaveBackoff = time.Millisecond
	}

	m, err := NewManager(Deps{
		Repo:      repo,
		Registry:  stores.Default(),
		Launcher:  env.launcher,
		Extractor: scraper.NewExtractor(20, slog.Default(), env.metrics),
		Proxies:   provider,
		Metrics:   env.metrics,
	}, opts, slog.Default())
	require.NoError(t, err)
	env.manager = m
	return env
}

func TestManager_Submit(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository(testToken)
	repo.AddAPIKey("revoked", false)
	env := newTestEnv(t, repo, nil, Options{})

	tests := []struct {
		name    string
		token   string
		keyword string
		wantErr error
	}{
		{"blank keyword", testToken, "   ", models.ErrValidation},
		{"missing key", "", keyword, models.ErrValidation},
		{"unknown key", "nope", keyword, models.ErrUnauthorized},
		{"inactive key", "revoked", keyword, models.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := env.manager.Submit(ctx, tt.token, tt.keyword)
			assert.Nil(t, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("valid submission", func(t *testing.T) {
		req, err := env.manager.Submit(ctx, testToken, "  ssd ")
		require.NoError(t, err)
		assert.Equal(t, models.StatusToDo, req.Status)
		assert.Equal(t, "ssd", req.Keyword)

		status, err := env.manager.Status(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusToDo, status.Status)
	})
}

func TestManager_Authenticate(t *testing.T) {
	repo := database.NewMemoryRepository(testToken)
	repo.AddAPIKey("revoked", false)
	env := newTestEnv(t, repo, nil, Options{})
	ctx := context.Background()

	key, err := env.manager.Authenticate(ctx, "  "+testToken+" ")
	require.NoError(t, err)
	assert.True(t, key.IsActive)

	_, err = env.manager.Authenticate(ctx, " ")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = env.manager.Authenticate(ctx, "revoked")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = env.manager.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestManager_Run_EmptyCatalogAbortsBeforeAnyTask(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository(testToken)
	repo.SetStores()
	env := newTestEnv(t, repo, nil, Options{})

	req, err := env.manager.Submit(ctx, testToken, keyword)
	require.NoError(t, err)

	err = env.manager.Run(ctx, req)
	assert.ErrorIs(t, err, models.ErrNoStores)
	assert.Zero(t, env.launcher.sessionCount())

	status, err := env.manager.Status(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusToDo, status.Status)
}

func TestManager_Run_NavigationFailuresStillReachDone(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository(testToken)
	env := newTestEnv(t, repo, nil, Options{})

	req, err := env.manager.Submit(ctx, testToken, keyword)
	require.NoError(t, err)
	require.NoError(t, env.manager.Run(ctx, req))

	results, err := env.manager.Results(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, results.Request.Status)

	// ebay yields two products and target one; the other three stores fail.
	assert.Len(t, results.Products, 3)
	byStore := map[string]int{}
	for _, p := range results.Products {
		byStore[p.Store]++
		assert.Equal(t, req.ID, p.RequestID)
	}
	assert.Equal(t, map[string]int{stores.NameEbay: 2, stores.NameTarget: 1}, byStore)

	require.Len(t, results.Stores, 5)
	failed := 0
	for _, o := range results.Stores {
		switch o.Store {
		case stores.NameEbay, stores.NameTarget:
			assert.Equal(t, models.OutcomeSucceeded, o.Status)
		default:
			assert.Equal(t, models.OutcomeFailed, o.Status)
			assert.Contains(t, o.Error, models.ErrNavigation.Error())
			failed++
		}
		assert.False(t, o.FinishedAt.Before(o.StartedAt))
	}
	assert.Equal(t, 3, failed)
	assert.Equal(t, 5, env.launcher.sessionCount())

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.StoreTasks.WithLabelValues(stores.NameEbay, "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.StoreTasks.WithLabelValues(stores.NameAmazon, "failed")))
}

func TestManager_Run_StoreSelection(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository(testToken)
	env := newTestEnv(t, repo, nil, Options{Stores: []string{"ebay"}})

	req, err := env.manager.Submit(ctx, testToken, keyword)
	require.NoError(t, err)
	require.NoError(t, env.manager.Run(ctx, req))

	results, err := env.manager.Results(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, results.Products, 2)
	require.Len(t, results.Stores, 1)
	assert.Equal(t, int64(3), results.Stores[0].StoreID)

	_, err = NewManager(Deps{Registry: stores.Default()}, Options{Stores: []string{"bestbuy"}}, slog.Default())
	assert.Error(t, err)
}

func TestManager_Run_PersistenceFailureKeepsWorking(t *testing.T) {
	ctx := context.Background()
	mem := database.NewMemoryRepository(testToken)
	repo := &flakyRepo{MemoryRepository: mem}
	env := newTestEnv(t, repo, nil, Options{Stores: []string{"ebay", "amazon"}, SaveRetries: 3})

	req, err := env.manager.Submit(ctx, testToken, keyword)
	require.NoError(t, err)

	err = env.manager.Run(ctx, req)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, int32(3), repo.saves.Load())

	status, err := mem.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWorking, status.Status)

	outcomes, err := mem.GetOutcomes(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, models.OutcomeFailed, o.Status)
	}
}

func TestManager_Run_ProxyPolicy(t *testing.T) {
	ctx := context.Background()
	unavailable := stubProvider{err: proxy.ErrProxyUnavailable}
	gateway := stubProvider{proxy: &proxy.Proxy{Address: "gw.example", Port: 8000, Username: "u", Password: "p"}}

	// amazon uses proxies in the default catalog.
	amazonOnly := map[string]string{stores.Amazon{}.SearchTarget(keyword).URL: amazonListing}

	tests := []struct {
		name          string
		provider      proxy.Provider
		policy        ProxyPolicy
		wantStatus    models.OutcomeStatus
		wantProxyUsed bool
		wantServer    string
	}{
		{"degrade without provider", nil, ProxyPolicyDegrade, models.OutcomeSucceeded, false, ""},
		{"degrade when pool is empty", unavailable, ProxyPolicyDegrade, models.OutcomeSucceeded, false, ""},
		{"fail when pool is empty", unavailable, ProxyPolicyFail, models.OutcomeFailed, false, ""},
		{"uses acquired proxy", gateway, ProxyPolicyFail, models.OutcomeSucceeded, true, "http://gw.example:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := database.NewMemoryRepository(testToken)
			env := newTestEnv(t, repo, tt.provider, Options{Stores: []string{"amazon"}, ProxyPolicy: tt.policy})
			env.launcher.pages = amazonOnly

			req, err := env.manager.Submit(ctx, testToken, keyword)
			require.NoError(t, err)
			require.NoError(t, env.manager.Run(ctx, req))

			outcomes, err := repo.GetOutcomes(ctx, req.ID)
			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.Equal(t, tt.wantStatus, outcomes[0].Status)
			assert.Equal(t, tt.wantProxyUsed, outcomes[0].ProxyUsed)

			if tt.wantStatus == models.OutcomeFailed {
				assert.Contains(t, outcomes[0].Error, models.ErrProxyUnavailable.Error())
				assert.Zero(t, env.launcher.sessionCount())
				return
			}
			require.Equal(t, 1, env.launcher.sessionCount())
			assert.Equal(t, tt.wantServer, env.launcher.sessions[0].ProxyServer)
			assert.Equal(t, 1, outcomes[0].Products)
		})
	}
}

func TestManager_Run_RecoversTaskPanic(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository(testToken)
	env := newTestEnv(t, repo, nil, Options{Stores: []string{"ebay", "target"}})
	env.launcher.panicOn = stores.Target{}.SearchTarget(keyword).URL

	req, err := env.manager.Submit(ctx, testToken, keyword)
	require.NoError(t, err)
	require.NoError(t, env.manager.Run(ctx, req))

	results, err := env.manager.Results(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, results.Request.Status)
	assert.Len(t, results.Products, 2)

	require.Len(t, results.Stores, 2)
	assert.Equal(t, models.OutcomeSucceeded, results.Stores[0].Status)
	assert.Equal(t, models.OutcomeFailed, results.Stores[1].Status)
	assert.Contains(t, results.Stores[1].Error, "panic")
}

func TestManager_ResultsAndDiscard(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository(testToken)
	env := newTestEnv(t, repo, nil, Options{Stores: []string{"ebay"}})

	_, err := env.manager.Results(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrRequestNotFound)

	req, err := env.manager.Submit(ctx, testToken, keyword)
	require.NoError(t, err)
	require.NoError(t, env.manager.Run(ctx, req))

	require.NoError(t, env.manager.Discard(ctx, req.ID))
	results, err := env.manager.Results(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, results.Products)
	assert.Len(t, results.Stores, 1)
}

func TestManager_Stores(t *testing.T) {
	repo := database.NewMemoryRepository()
	repo.SetStores(models.Store{ID: 3, Name: "ebay"})
	env := newTestEnv(t, repo, nil, Options{})

	infos, err := env.manager.Stores(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 5)

	for _, info := range infos {
		assert.Equal(t, info.Name == stores.NameEbay, info.Enabled, info.Name)
	}
}
