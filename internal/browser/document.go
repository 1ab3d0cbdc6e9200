package browser

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
)

// DocumentPage answers selector queries against a parsed HTML document.
// It backs the http driver and fixture based tests. It cannot run scripts,
// so sites that render listings client side return no entries.
type DocumentPage struct {
	client  *http.Client
	headers map[string]string
	retries int
	doc     *goquery.Document
}

// NewDocumentPage parses html into a page that needs no network access.
func NewDocumentPage(html string) (*DocumentPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &DocumentPage{doc: doc}, nil
}

func (p *DocumentPage) Navigate(ctx context.Context, target string) error {
	if p.client == nil {
		return fmt.Errorf("document page has no http client")
	}

	retries := p.retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			if err := sleep(ctx, time.Duration(i)*500*time.Millisecond); err != nil {
				return err
			}
		}

		doc, err := p.fetch(ctx, target)
		if err == nil {
			p.doc = doc
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", retries, lastErr)
}

func (p *DocumentPage) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

func (p *DocumentPage) Type(context.Context, string, string) error {
	return ErrInteractionUnsupported
}

func (p *DocumentPage) Click(context.Context, string) error {
	return ErrInteractionUnsupported
}

func (p *DocumentPage) Text(ctx context.Context, selector string) (string, error) {
	sel, err := p.find(ctx, selector)
	if err != nil || sel == nil {
		return "", err
	}
	return strings.TrimSpace(sel.Text()), nil
}

func (p *DocumentPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	sel, err := p.find(ctx, selector)
	if err != nil || sel == nil {
		return "", err
	}
	value, _ := sel.Attr(name)
	return strings.TrimSpace(value), nil
}

func (p *DocumentPage) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.doc == nil {
		return 0, fmt.Errorf("no document loaded")
	}
	return p.doc.Find(selector).Length(), nil
}

func (p *DocumentPage) Close() error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

func (p *DocumentPage) find(ctx context.Context, selector string) (*goquery.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	if selector == "" {
		return nil, nil
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return sel, nil
}

// HTTPLauncher opens DocumentPage sessions that fetch pages over plain HTTP.
type HTTPLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func NewHTTPLauncher(opts *Options, logger *slog.Logger) *HTTPLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLauncher{opts: opts, logger: logger.With("component", "http_browser")}
}

func (l *HTTPLauncher) NewSession(ctx context.Context, sopts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if sopts.ProxyServer != "" {
		proxyURL, err := url.Parse(sopts.ProxyServer)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy server: %w", err)
		}
		if sopts.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(sopts.ProxyUsername, sopts.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	l.logger.Debug("opening http session", "proxy", sopts.ProxyServer != "")

	headers := make(map[string]string, len(l.opts.ExtraHeaders)+1)
	for k, v := range l.opts.ExtraHeaders {
		headers[k] = v
	}
	headers["User-Agent"] = l.opts.UserAgent

	return &DocumentPage{
		client:  &http.Client{Transport: transport, Timeout: l.opts.Timeout},
		headers: headers,
		retries: l.opts.NavigationRetries,
	}, nil
}

func (l *HTTPLauncher) Close() error {
	return nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return r, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}
