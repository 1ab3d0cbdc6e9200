package stores

import (
	"context"
	"net/url"
	"strings"

	"github.com/maltedev/store-scraper/internal/browser"
)

// Amazon lists results sorted by review rank. The first five children of the
// result grid are banners and refinements, so products start at position 6.
type Amazon struct{}

func (Amazon) Name() string { return NameAmazon }
func (Amazon) Origin() string { return "https://www.amazon.com" }
func (Amazon) StartIndex() int { return 6 }

func (Amazon) Selectors() Selectors {
	return Selectors{
		Product:    "[data-asin][data-uuid]",
		Image:      "img",
		Title:      "h2",
		Rating:     "span[aria-label]:nth-child(1)",
		Reviews:    "span[aria-label]:nth-child(2)",
		Sponsored:  `[aria-label~="Sponsored"]`,
		BestSeller: ".a-row.a-badge-region",
		Price:      "a.a-size-base .a-offscreen",
		Sales:      ".a-row.a-size-base > span.a-color-secondary:only-child",
		Link:       "a",
	}
}

func (Amazon) SearchTarget(keyword string) Navigation {
	return Navigation{
		URL:     "https://www.amazon.com/s?k=" + url.QueryEscape(keyword) + "&s=review-rank",
		Keyword: keyword,
	}
}

func (Amazon) IsSponsored(marker string) bool {
	return strings.TrimSpace(marker) != ""
}

func (Amazon) CleanPrice(raw string) string {
	return stripCurrency(raw)
}

// ReviewCount reads the accessibility label; the visible text is an icon.
func (a Amazon) ReviewCount(ctx context.Context, page browser.Page, entry string) (string, error) {
	return attrAt(ctx, page, entry, a.Selectors().Reviews, "aria-label")
}

func (a Amazon) ProductLink(ctx context.Context, page browser.Page, entry string) (string, error) {
	return hrefAt(ctx, page, entry, a.Selectors().Link, a.Origin())
}
