package stores

import (
	"context"
	"net/url"
	"strings"

	"github.com/maltedev/store-scraper/internal/browser"
)

// Ebay searches buy-it-now listings in new condition. The first li.s-item is
// a hidden template row. eBay does not mark sponsored results in the list.
type Ebay struct{}

func (Ebay) Name() string { return NameEbay }
func (Ebay) Origin() string { return "https://www.ebay.com" }
func (Ebay) StartIndex() int { return 2 }

func (Ebay) Selectors() Selectors {
	return Selectors{
		Product:    "li.s-item",
		Image:      "img",
		Title:      ".s-item__title",
		Rating:     ".x-star-rating > span",
		Reviews:    ".s-item__reviews-count > span:nth-child(1)",
		Sponsored:  ".s-item__sep div",
		BestSeller: ".s-item__etrs-text",
		Price:      ".s-item__price",
		Sales:      ".s-item__quantitySold",
		Link:       "a",
	}
}

func (Ebay) SearchTarget(keyword string) Navigation {
	return Navigation{
		URL: "https://www.ebay.com/sch/i.html?_nkw=" + url.QueryEscape(keyword) +
			"&LH_BIN=1&rt=nc&LH_ItemCondition=1000&_fcid=1",
		Keyword: keyword,
	}
}

func (Ebay) IsSponsored(string) bool {
	return false
}

// CleanPrice rejects price ranges such as "$10.00 to $25.00".
func (Ebay) CleanPrice(raw string) string {
	fields := strings.Fields(strings.ReplaceAll(raw, "US ", ""))
	if len(fields) != 1 {
		return ""
	}
	return stripCurrency(fields[0])
}

func (e Ebay) ReviewCount(ctx context.Context, page browser.Page, entry string) (string, error) {
	return textAt(ctx, page, entry, e.Selectors().Reviews)
}

func (e Ebay) ProductLink(ctx context.Context, page browser.Page, entry string) (string, error) {
	return hrefAt(ctx, page, entry, e.Selectors().Link, e.Origin())
}
