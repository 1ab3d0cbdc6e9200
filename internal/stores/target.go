package stores

import (
	"context"
	"net/url"
	"strings"

	"github.com/maltedev/store-scraper/internal/browser"
)

// Target sorts by best selling within the shipping facet. The site shows no
// best seller badge or sales figure on the listing.
type Target struct{}

func (Target) Name() string { return NameTarget }
func (Target) Origin() string { return "https://www.target.com" }
func (Target) StartIndex() int { return 1 }

func (Target) Selectors() Selectors {
	return Selectors{
		Product:   ".jZzlfv > .dOpyUp",
		Image:     "img",
		Title:     "div[title] > a",
		Rating:    `[data-test="ratings"] > span`,
		Reviews:   `[data-test="rating-count"]`,
		Sponsored: `[data-test="sponsoredText"]`,
		Price:     `[data-test="current-price"] > span`,
		Link:      "div[title] > a",
	}
}

func (Target) SearchTarget(keyword string) Navigation {
	return Navigation{
		URL: "https://www.target.com/s?searchTerm=" + url.QueryEscape(keyword) +
			"&facetedValue=5zktx&sortBy=bestselling",
		Keyword: keyword,
	}
}

func (Target) IsSponsored(marker string) bool {
	return strings.TrimSpace(marker) != ""
}

// CleanPrice keeps the lower bound of variant ranges like "$49.99 - $104.99",
// which is the price Target charges for the default variant.
func (Target) CleanPrice(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return stripCurrency(fields[0])
}

func (t Target) ReviewCount(ctx context.Context, page browser.Page, entry string) (string, error) {
	return textAt(ctx, page, entry, t.Selectors().Reviews)
}

func (t Target) ProductLink(ctx context.Context, page browser.Page, entry string) (string, error) {
	return hrefAt(ctx, page, entry, t.Selectors().Link, t.Origin())
}
