package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/store-scraper/internal/api"
	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/config"
	"github.com/maltedev/store-scraper/internal/database"
	"github.com/maltedev/store-scraper/internal/jobs"
	"github.com/maltedev/store-scraper/internal/metrics"
	"github.com/maltedev/store-scraper/internal/proxy"
	"github.com/maltedev/store-scraper/internal/scraper"
	"github.com/maltedev/store-scraper/internal/stores"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the process scoped dependencies shared by the commands.
type app struct {
	logger   *slog.Logger
	db       *database.DB
	outbox   *database.OutboxRepository
	memory   *database.MemoryRepository
	repo     jobs.Repository
	health   api.HealthChecker
	launcher browser.Launcher
	registry *prometheus.Registry
	manager  *jobs.Manager
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openRepository(ctx, cfg); err != nil {
		return nil, err
	}

	providers, err := newProxyProvider(ctx, http.DefaultClient, cfg.Proxy, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.launcher, err = newLauncher(cfg.Browser, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.New(a.registry)
	a.manager, err = jobs.NewManager(jobs.Deps{
		Repo:      a.repo,
		Registry:  stores.Default(),
		Launcher:  a.launcher,
		Extractor: scraper.NewExtractor(cfg.Scraper.MaxProducts, logger, m),
		Proxies:   providers,
		Metrics:   m,
	}, jobs.Options{
		Stores:         cfg.Scraper.Stores,
		StoreTimeout:   cfg.Scraper.StoreTimeout,
		RequestTimeout: cfg.Scraper.RequestTimeout,
		SaveRetries:    cfg.Scraper.SaveRetries,
		MaxRequests:    cfg.Scraper.MaxRequests,
		PollInterval:   cfg.Scraper.PollInterval,
		ProxyPolicy:    jobs.ProxyPolicy(cfg.Proxy.Policy),
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// newCatalogApp opens the repository only. Its manager can list the store
// catalog but has no browser to scrape with.
func newCatalogApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.openRepository(ctx, cfg); err != nil {
		return nil, err
	}

	var err error
	a.manager, err = jobs.NewManager(jobs.Deps{
		Repo:     a.repo,
		Registry: stores.Default(),
	}, jobs.Options{Stores: cfg.Scraper.Stores}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepository(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Driver == config.DriverMemory {
		a.memory = database.NewMemoryRepository(cfg.Database.APIKeys...)
		a.repo = a.memory
		a.health = a.memory
		a.logger.Warn("using in-memory repository, data is lost on exit",
			"api_keys", len(cfg.Database.APIKeys))
		return nil
	}

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	if cfg.Database.Migrate {
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		a.logger.Info("database schema ensured")
	}

	a.outbox = database.NewOutboxRepository(db, cfg.Redis.Stream)
	repo := database.NewRepository(db, a.outbox)
	a.repo = repo
	a.health = repo
	return nil
}

func newLauncher(cfg config.BrowserConfig, logger *slog.Logger) (browser.Launcher, error) {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Headless
	opts.Timeout = cfg.Timeout
	opts.NavigationRetries = cfg.NavigationRetries
	opts.ExecutablePath = cfg.ExecutablePath

	if cfg.Driver == config.BrowserHTTP {
		return browser.NewHTTPLauncher(opts, logger), nil
	}

	b, err := browser.New(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	return b, nil
}

// newProxyProvider builds the provider for cfg.Mode. It returns nil when
// proxies are disabled.
func newProxyProvider(ctx context.Context, client *http.Client, cfg config.ProxyConfig, logger *slog.Logger) (proxy.Provider, error) {
	logger = logger.With("component", "proxy")

	switch cfg.Mode {
	case config.ProxyStatic:
		list, err := proxy.ParseList(cfg.List)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PROXY_LIST: %w", err)
		}
		logger.Info("using static proxy list", "proxies", len(list))
		return proxy.NewPool(list), nil

	case config.ProxyWebshare:
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		list, err := proxy.FetchWebshare(fetchCtx, client, proxy.DefaultWebshareURL, cfg.Token, cfg.Country)
		if err != nil {
			return nil, fmt.Errorf("failed to load webshare proxies: %w", err)
		}
		logger.Info("loaded webshare proxies", "proxies", len(list), "country", cfg.Country)
		return proxy.NewPool(list), nil

	case config.ProxyGateway:
		p, err := proxy.Parse(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PROXY_GATEWAY: %w", err)
		}
		if cfg.Username != "" {
			p.Username, p.Password = cfg.Username, cfg.Password
		}
		logger.Info("using proxy gateway", "gateway", p.HostPort())
		return proxy.Gateway{Proxy: p}, nil

	case config.ProxyEndpoint:
		logger.Info("using proxy endpoint", "endpoint", cfg.Endpoint)
		return proxy.NewEndpoint(client, cfg.Endpoint, cfg.Username, cfg.Password), nil

	default:
		return nil, nil
	}
}

func (a *app) Close() {
	if a.launcher != nil {
		if err := a.launcher.Close(); err != nil {
			a.logger.Error("failed to close browser", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
