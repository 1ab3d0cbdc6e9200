package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser owns one Chromium process. Every session gets its own browser
// context so cookies and proxy settings never leak between store tasks.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless          bool
	Timeout           time.Duration
	NavigationRetries int
	SettleDelay       time.Duration
	ExecutablePath    string
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	TimezoneID        string
	Locale            string
	ExtraHeaders      map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		Timeout:           30 * time.Second,
		NavigationRetries: 3,
		SettleDelay:       2 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		TimezoneID:        "America/New_York",
		Locale:            "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = &opts.ExecutablePath
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

// NewSession opens a fresh context and page, routed through the proxy in
// sopts when one is set.
func (b *Browser) NewSession(ctx context.Context, sopts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: b.opts.ExtraHeaders,
	}
	if sopts.ProxyServer != "" {
		proxy := &playwright.Proxy{Server: sopts.ProxyServer}
		if sopts.ProxyUsername != "" {
			proxy.Username = playwright.String(sopts.ProxyUsername)
			proxy.Password = playwright.String(sopts.ProxyPassword)
		}
		contextOpts.Proxy = proxy
	}

	bctx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return &playwrightSession{
		bctx:   bctx,
		page:   page,
		opts:   b.opts,
		logger: b.logger.With("proxy", sopts.ProxyServer != ""),
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

type playwrightSession struct {
	bctx   playwright.BrowserContext
	page   playwright.Page
	opts   *Options
	logger *slog.Logger
}

// Navigate loads url, retrying with a linear backoff, then scrolls to the
// bottom so lazily rendered listing entries are present before extraction.
func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	retries := s.opts.NavigationRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			s.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}

		_, err := s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(s.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			return s.settle(ctx)
		}

		lastErr = err
		s.logger.Warn("navigation failed", "error", err, "attempt", i+1, "url", url)
	}

	return fmt.Errorf("failed after %d attempts: %w", retries, lastErr)
}

func (s *playwrightSession) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.page.Locator(selector).First().Fill(text); err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

func (s *playwrightSession) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	// a click on a search button starts a navigation
	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("failed waiting for page load: %w", err)
	}
	return s.settle(ctx)
}

func (s *playwrightSession) Text(ctx context.Context, selector string) (string, error) {
	loc, ok, err := s.first(ctx, selector)
	if err != nil || !ok {
		return "", err
	}
	text, err := loc.TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(5000),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (s *playwrightSession) Attribute(ctx context.Context, selector, name string) (string, error) {
	loc, ok, err := s.first(ctx, selector)
	if err != nil || !ok {
		return "", err
	}
	value, err := loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(5000),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read attribute %s of %q: %w", name, selector, err)
	}
	return strings.TrimSpace(value), nil
}

func (s *playwrightSession) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	return n, nil
}

func (s *playwrightSession) Close() error {
	if err := s.bctx.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

func (s *playwrightSession) first(ctx context.Context, selector string) (playwright.Locator, bool, error) {
	if selector == "" {
		return nil, false, nil
	}
	n, err := s.Count(ctx, selector)
	if err != nil || n == 0 {
		return nil, false, err
	}
	return s.page.Locator(selector).First(), true, nil
}

func (s *playwrightSession) settle(ctx context.Context) error {
	if _, err := s.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		s.logger.Debug("scroll failed", "error", err)
	}
	return sleep(ctx, s.opts.SettleDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
