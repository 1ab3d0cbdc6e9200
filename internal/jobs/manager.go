// Package jobs runs keyword requests across all enabled stores and moves
// them through their lifecycle.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/metrics"
	"github.com/maltedev/store-scraper/internal/models"
	"github.com/maltedev/store-scraper/internal/proxy"
	"github.com/maltedev/store-scraper/internal/scraper"
	"github.com/maltedev/store-scraper/internal/stores"
	"golang.org/x/sync/errgroup"
)

// Repository is what the manager needs from persistence.
type Repository interface {
	GetStores(ctx context.Context) (map[string]models.Store, error)
	ValidateAPIKey(ctx context.Context, token string) (*models.APIKey, error)
	CreateRequest(ctx context.Context, apiKeyID int64, keyword string) (*models.Request, error)
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error)
	PendingRequests(ctx context.Context, limit int) ([]*models.Request, error)
	SaveProducts(ctx context.Context, products []models.Product) error
	GetProducts(ctx context.Context, requestID uuid.UUID) ([]models.Product, error)
	DeleteProducts(ctx context.Context, requestID uuid.UUID) error
	SaveOutcome(ctx context.Context, outcome models.StoreOutcome) error
	GetOutcomes(ctx context.Context, requestID uuid.UUID) ([]models.StoreOutcome, error)
}

type ProxyPolicy string

const (
	// ProxyPolicyDegrade runs the task without a proxy when none is available.
	ProxyPolicyDegrade ProxyPolicy = "degrade"
	// ProxyPolicyFail fails the task when no proxy is available.
	ProxyPolicyFail ProxyPolicy = "fail"
)

type Options struct {
	Stores         []string
	StoreTimeout   time.Duration
	RequestTimeout time.Duration
	SaveRetries    int
	SaveBackoff    time.Duration
	MaxRequests    int
	PollInterval   time.Duration
	ProxyPolicy    ProxyPolicy
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 2 * time.Minute
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Minute
	}
	if o.SaveRetries <= 0 {
		o.SaveRetries = 3
	}
	if o.SaveBackoff <= 0 {
		o.SaveBackoff = 500 * time.Millisecond
	}
	if o.MaxRequests <= 0 {
		o.MaxRequests = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.ProxyPolicy == "" {
		o.ProxyPolicy = ProxyPolicyDegrade
	}
	return o
}

// Deps are the process scoped collaborators. Proxies and Metrics may be nil.
type Deps struct {
	Repo      Repository
	Registry  *stores.Registry
	Launcher  browser.Launcher
	Extractor *scraper.Extractor
	Proxies   proxy.Provider
	Metrics   *metrics.Metrics
}

type Manager struct {
	repo      Repository
	adapters  *stores.Registry
	launcher  browser.Launcher
	extractor *scraper.Extractor
	proxies   proxy.Provider
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger

	wake     chan struct{}
	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	backlog  bool
}

func NewManager(deps Deps, opts Options, logger *slog.Logger) (*Manager, error) {
	opts = opts.withDefaults()

	adapters, err := deps.Registry.Select(opts.Stores)
	if err != nil {
		return nil, fmt.Errorf("failed to select stores: %w", err)
	}

	return &Manager{
		repo:      deps.Repo,
		adapters:  adapters,
		launcher:  deps.Launcher,
		extractor: deps.Extractor,
		proxies:   deps.Proxies,
		metrics:   deps.Metrics,
		opts:      opts,
		logger:    logger.With("component", "job_manager"),
		wake:      make(chan struct{}, 1),
		inflight:  make(map[uuid.UUID]struct{}),
	}, nil
}

// Submit validates the caller and records a new to-do request. The worker,
// if running, is woken to pick it up.
func (m *Manager) Submit(ctx context.Context, token, keyword string) (*models.Request, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, models.Validationf("keyword is required")
	}

	key, err := m.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	req, err := m.repo.CreateRequest(ctx, key.ID, keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	m.logger.Info("request submitted", "request_id", req.ID, "keyword", keyword, "api_key_id", key.ID)
	m.notify()
	return req, nil
}

// Authenticate resolves an active API key. An empty token is a validation
// error; an unknown or inactive one is ErrUnauthorized.
func (m *Manager) Authenticate(ctx context.Context, token string) (*models.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.Validationf("api-key is required")
	}
	return m.repo.ValidateAPIKey(ctx, token)
}

func (m *Manager) Status(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	return m.repo.GetRequest(ctx, id)
}

type Results struct {
	Request  *models.Request       `json:"request"`
	Products []models.Product      `json:"products"`
	Stores   []models.StoreOutcome `json:"stores"`
}

// Results returns what has been persisted so far. Products of a request that
// is still working are a partial view.
func (m *Manager) Results(ctx context.Context, id uuid.UUID) (*Results, error) {
	req, err := m.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	products, err := m.repo.GetProducts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	outcomes, err := m.repo.GetOutcomes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get store outcomes: %w", err)
	}
	return &Results{Request: req, Products: products, Stores: outcomes}, nil
}

// Discard deletes the products stored for a request.
func (m *Manager) Discard(ctx context.Context, id uuid.UUID) error {
	if err := m.repo.DeleteProducts(ctx, id); err != nil {
		return fmt.Errorf("failed to discard products: %w", err)
	}
	return nil
}

type StoreInfo struct {
	Name        string `json:"name"`
	ID          int64  `json:"id"`
	Origin      string `json:"origin"`
	UsesProxies bool   `json:"uses_proxies"`
	Enabled     bool   `json:"enabled"`
}

// Stores lists the selected adapters with their catalog entry. An adapter
// without a catalog entry is listed as disabled.
func (m *Manager) Stores(ctx context.Context) ([]StoreInfo, error) {
	catalog, err := m.repo.GetStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stores: %w", err)
	}

	infos := make([]StoreInfo, 0, len(m.adapters.List()))
	for _, a := range m.adapters.List() {
		info := StoreInfo{Name: a.Name(), Origin: a.Origin()}
		if s, ok := catalog[a.Name()]; ok {
			info.ID = s.ID
			info.UsesProxies = s.UsesProxies
			info.Enabled = true
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type task struct {
	adapter stores.Adapter
	store   models.Store
}

func (m *Manager) plan(catalog map[string]models.Store) []task {
	var tasks []task
	for _, a := range m.adapters.List() {
		s, ok := catalog[a.Name()]
		if !ok {
			m.logger.Debug("adapter has no catalog entry", "store", a.Name())
			continue
		}
		tasks = append(tasks, task{adapter: a, store: s})
	}
	return tasks
}

// Run scrapes every planned store for req and waits for all of them. Store
// failures are recorded as outcomes and do not fail the request. The request
// reaches done unless a product batch could not be persisted, in which case
// it stays working and ErrPersistence is returned.
func (m *Manager) Run(ctx context.Context, req *models.Request) error {
	started := time.Now()
	logger := m.logger.With("request_id", req.ID, "keyword", req.Keyword)

	catalog, err := m.repo.GetStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stores: %w", err)
	}
	tasks := m.plan(catalog)
	if len(tasks) == 0 {
		return models.ErrNoStores
	}

	if err := m.repo.UpdateRequestStatus(ctx, req.ID, models.StatusWorking); err != nil {
		return fmt.Errorf("failed to start request: %w", err)
	}
	logger.Info("request started", "stores", len(tasks))

	runCtx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	defer cancel()

	outcomes := make([]models.StoreOutcome, len(tasks))
	persistErrs := make([]error, len(tasks))

	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i], persistErrs[i] = m.runTask(runCtx, req, t)
			return nil
		})
	}
	g.Wait()

	persistCtx := context.WithoutCancel(ctx)
	succeeded, products := 0, 0
	for _, o := range outcomes {
		if err := m.repo.SaveOutcome(persistCtx, o); err != nil {
			logger.Error("failed to save store outcome", "store", o.Store, "error", err)
		}
		if o.Status == models.OutcomeSucceeded {
			succeeded++
			products += o.Products
		}
	}
	m.metrics.ObserveRequest(time.Since(started))

	if err := errors.Join(persistErrs...); err != nil {
		logger.Error("request left working, product batch not persisted", "error", err)
		return err
	}

	if err := m.repo.UpdateRequestStatus(persistCtx, req.ID, models.StatusDone); err != nil {
		return fmt.Errorf("failed to finish request: %w", err)
	}

	logger.Info("request done",
		"stores", len(tasks),
		"succeeded", succeeded,
		"products", products,
		"duration", time.Since(started))
	return nil
}

// runTask scrapes one store. It never panics and only returns an error when
// the store's products could not be persisted.
func (m *Manager) runTask(ctx context.Context, req *models.Request, t task) (outcome models.StoreOutcome, persistErr error) {
	name := t.adapter.Name()
	logger := m.logger.With("request_id", req.ID, "store", name)

	outcome = models.StoreOutcome{
		RequestID: req.ID,
		StoreID:   t.store.ID,
		Store:     name,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("store task panicked", "panic", r)
			outcome.Status = models.OutcomeFailed
			outcome.Products = 0
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
		outcome.FinishedAt = time.Now()
		m.metrics.TaskFinished(name, string(outcome.Status))
	}()

	products, proxyUsed, err := m.scrapeStore(ctx, req, t)
	outcome.ProxyUsed = proxyUsed
	if err != nil {
		logger.Warn("store task failed", "error", err)
		outcome.Status = models.OutcomeFailed
		outcome.Error = err.Error()
		return outcome, nil
	}

	if err := m.saveWithRetry(ctx, name, products); err != nil {
		logger.Error("failed to persist products", "count", len(products), "error", err)
		outcome.Status = models.OutcomeFailed
		outcome.Error = err.Error()
		return outcome, err
	}

	outcome.Status = models.OutcomeSucceeded
	outcome.Products = len(products)
	logger.Info("store task succeeded", "products", len(products), "proxy_used", proxyUsed)
	return outcome, nil
}

func (m *Manager) scrapeStore(ctx context.Context, req *models.Request, t task) ([]models.Product, bool, error) {
	name := t.adapter.Name()

	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()

	opts, proxyUsed, err := m.sessionOptions(ctx, t)
	if err != nil {
		return nil, false, err
	}

	session, err := m.launcher.NewSession(ctx, opts)
	if err != nil {
		return nil, proxyUsed, models.NewScrapeError(models.ErrNavigation, name, "failed to open browser session", err)
	}
	defer session.Close()

	if err := scraper.Navigate(ctx, session, name, t.adapter.SearchTarget(req.Keyword)); err != nil {
		return nil, proxyUsed, err
	}

	products, err := m.extractor.Extract(ctx, session, t.adapter, t.store, req.ID)
	return products, proxyUsed, err
}

// sessionOptions acquires a proxy for stores that use one and applies the
// proxy policy when none is available.
func (m *Manager) sessionOptions(ctx context.Context, t task) (browser.SessionOptions, bool, error) {
	name := t.adapter.Name()
	if !t.store.UsesProxies {
		return browser.SessionOptions{}, false, nil
	}

	var p *proxy.Proxy
	err := fmt.Errorf("%w: no proxy provider configured", proxy.ErrProxyUnavailable)
	if m.proxies != nil {
		p, err = m.proxies.Acquire(ctx)
	}

	if err != nil {
		if errors.Is(err, proxy.ErrProxyUnavailable) && m.opts.ProxyPolicy == ProxyPolicyDegrade {
			m.logger.Warn("continuing without proxy", "store", name, "error", err)
			return browser.SessionOptions{}, false, nil
		}
		return browser.SessionOptions{}, false, models.NewScrapeError(models.ErrProxyUnavailable, name, "", err)
	}

	return browser.SessionOptions{
		ProxyServer:   p.Server(),
		ProxyUsername: p.Username,
		ProxyPassword: p.Password,
	}, true, nil
}

// saveWithRetry persists a batch on a context detached from the request
// deadline so a finished extraction is not lost to a late timeout.
func (m *Manager) saveWithRetry(ctx context.Context, store string, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= m.opts.SaveRetries; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * m.opts.SaveBackoff)
		}
		if lastErr = m.repo.SaveProducts(ctx, products); lastErr == nil {
			return nil
		}
		m.logger.Warn("failed to save products",
			"store", store,
			"attempt", attempt,
			"error", lastErr)
	}

	return models.NewScrapeError(models.ErrPersistence, store,
		fmt.Sprintf("gave up after %d attempts", m.opts.SaveRetries), lastErr)
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) inflightIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.inflight))
	for id := range m.inflight {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	return ids
}
