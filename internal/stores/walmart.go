package stores

import (
	"context"
	"strings"

	"github.com/maltedev/store-scraper/internal/browser"
)

// Walmart ignores most query parameters on direct search links and routes
// them through a bot check, so the search is typed into the home page form.
type Walmart struct{}

func (Walmart) Name() string { return NameWalmart }
func (Walmart) Origin() string { return "https://www.walmart.com" }
func (Walmart) StartIndex() int { return 1 }

func (Walmart) Selectors() Selectors {
	return Selectors{
		Product:    `[data-testid="item-stack"] > div`,
		Image:      `img[data-testid="productTileImage"]`,
		Title:      `[data-automation-id="product-title"]`,
		Rating:     `[data-testid="product-ratings"]`,
		Reviews:    `[data-testid="product-reviews"]`,
		Sponsored:  `[data-testid="sponsored-flag"]`,
		BestSeller: `[data-testid="badgeTagComponent"]`,
		Price:      `[data-automation-id="product-price"] > div`,
		Link:       "a[link-identifier]",

		SearchInput:  `input[type="search"]`,
		SearchSubmit: `form[role="search"] button[type="submit"]`,
	}
}

func (w Walmart) SearchTarget(keyword string) Navigation {
	sel := w.Selectors()
	return Navigation{
		Home:    w.Origin() + "/",
		Input:   sel.SearchInput,
		Submit:  sel.SearchSubmit,
		Keyword: keyword,
	}
}

func (Walmart) IsSponsored(marker string) bool {
	return strings.EqualFold(strings.TrimSpace(marker), "sponsored")
}

// CleanPrice accepts "$12.97" and "Now $12.97" and rejects "$9.99 - $19.99".
func (Walmart) CleanPrice(raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Now"))
	if strings.Contains(s, "-") {
		return ""
	}
	return stripCurrency(s)
}

func (w Walmart) ReviewCount(ctx context.Context, page browser.Page, entry string) (string, error) {
	return textAt(ctx, page, entry, w.Selectors().Reviews)
}

func (w Walmart) ProductLink(ctx context.Context, page browser.Page, entry string) (string, error) {
	return hrefAt(ctx, page, entry, w.Selectors().Link, w.Origin())
}
