// Package scraper turns a loaded search result page into normalized products
// using the knowledge a store adapter carries.
package scraper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/metrics"
	"github.com/maltedev/store-scraper/internal/models"
	"github.com/maltedev/store-scraper/internal/parser"
	"github.com/maltedev/store-scraper/internal/stores"
)

const DefaultMaxProducts = 20

// Skip reasons reported to metrics.
const (
	skipNoPrice   = "no_price"
	skipSponsored = "sponsored"
	skipBadPrice  = "bad_price"
)

// Extractor walks listing entries in document order. It holds no per-call
// state and can be shared between store tasks.
type Extractor struct {
	maxProducts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewExtractor(maxProducts int, logger *slog.Logger, m *metrics.Metrics) *Extractor {
	if maxProducts <= 0 {
		maxProducts = DefaultMaxProducts
	}
	return &Extractor{
		maxProducts: maxProducts,
		logger:      logger.With("component", "extractor"),
		metrics:     m,
		now:         time.Now,
	}
}

// Extract reads at most maxProducts entries from the page. Entries without a
// price, sponsored entries and entries whose price is not a positive decimal
// are skipped; missing optional fields are not a reason to skip. Driver
// errors abort the whole page with an ErrExtraction ScrapeError.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, adapter stores.Adapter, store models.Store, requestID uuid.UUID) ([]models.Product, error) {
	name := adapter.Name()
	sel := adapter.Selectors()
	logger := e.logger.With("store", name, "request_id", requestID)

	total, err := page.Count(ctx, sel.Product)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrExtraction, name, "failed to count entries", err)
	}

	products := make([]models.Product, 0, min(total, e.maxProducts))
	if total == 0 {
		logger.Info("no listing entries found")
		return products, nil
	}

	start := adapter.StartIndex()
	for pos := start; pos < start+total && len(products) < e.maxProducts; pos++ {
		entry := browser.Nth(sel.Product, pos)

		product, reason, err := e.entry(ctx, page, adapter, entry)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrExtraction, name, "entry "+entry, err)
		}
		if reason != "" {
			logger.Debug("skipping entry", "position", pos, "reason", reason)
			e.metrics.EntrySkipped(name, reason)
			continue
		}

		product.RequestID = requestID
		product.StoreID = store.ID
		product.Store = name
		product.CreatedAt = e.now()
		products = append(products, product)
		e.metrics.ProductExtracted(name)
	}

	logger.Info("extracted listing", "entries", total, "products", len(products))
	return products, nil
}

// entry reads one listing entry. A non-empty reason means the entry is
// skipped.
func (e *Extractor) entry(ctx context.Context, page browser.Page, adapter stores.Adapter, entry string) (models.Product, string, error) {
	sel := adapter.Selectors()
	r := fieldReader{ctx: ctx, page: page, entry: entry}

	rawPrice := r.text(sel.Price)
	if r.err != nil {
		return models.Product{}, "", r.err
	}
	if strings.TrimSpace(rawPrice) == "" {
		return models.Product{}, skipNoPrice, nil
	}

	if adapter.IsSponsored(r.text(sel.Sponsored)) {
		return models.Product{}, skipSponsored, r.err
	}

	image := r.attr(sel.Image, "src")
	title := r.text(sel.Title)
	rating := r.text(sel.Rating)
	bestSeller := r.text(sel.BestSeller)
	sales := r.text(sel.Sales)
	if r.err != nil {
		return models.Product{}, "", r.err
	}

	reviews, err := adapter.ReviewCount(ctx, page, entry)
	if err != nil {
		return models.Product{}, "", err
	}
	link, err := adapter.ProductLink(ctx, page, entry)
	if err != nil {
		return models.Product{}, "", err
	}

	price, ok := parser.Price(adapter.CleanPrice(rawPrice))
	if !ok {
		return models.Product{}, skipBadPrice, nil
	}

	return models.Product{
		Image:        parser.AbsoluteURL(image, adapter.Origin()),
		Title:        parser.Title(title),
		Rating:       parser.Rating(rating),
		ReviewCount:  parser.ReviewCount(reviews),
		Price:        price,
		IsBestSeller: parser.BestSeller(bestSeller),
		SalesCount:   parser.SalesCount(sales),
		Link:         link,
	}, "", nil
}

// fieldReader keeps the first driver error so a run of optional field reads
// can be checked once.
type fieldReader struct {
	ctx   context.Context
	page  browser.Page
	entry string
	err   error
}

func (r *fieldReader) text(field string) string {
	sel := browser.Within(r.entry, field)
	if r.err != nil || sel == "" {
		return ""
	}
	s, err := r.page.Text(r.ctx, sel)
	r.err = err
	return s
}

func (r *fieldReader) attr(field, name string) string {
	sel := browser.Within(r.entry, field)
	if r.err != nil || sel == "" {
		return ""
	}
	s, err := r.page.Attribute(r.ctx, sel, name)
	r.err = err
	return s
}
