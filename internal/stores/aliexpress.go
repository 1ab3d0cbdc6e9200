package stores

import (
	"context"
	"net/url"
	"strings"

	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/parser"
)

// AliExpress renders every result as an anchor inside #card-list, so the
// link is read from the entry container itself.
type AliExpress struct{}

func (AliExpress) Name() string { return NameAliExpress }
func (AliExpress) Origin() string { return "https://www.aliexpress.com" }
func (AliExpress) StartIndex() int { return 1 }

func (AliExpress) Selectors() Selectors {
	return Selectors{
		Product:    "#card-list > a",
		Image:      "img",
		Title:      "h1",
		Rating:     `[class*="evaluation"]`,
		Reviews:    `[class*="evaluation"]`,
		Sponsored:  "img + span",
		BestSeller: `img[width="44.53125"]`,
		Price:      `[class*="price-sale"]`,
		Sales:      `[class*="trade-"]`,
	}
}

func (AliExpress) SearchTarget(keyword string) Navigation {
	slug := strings.Join(strings.Fields(keyword), "-")
	return Navigation{
		URL: "https://www.aliexpress.com/w/wholesale-" + url.PathEscape(slug) +
			".html?g=y&trafficChannel=main&isMall=y&sortType=total_tranpro_desc&isFavorite=y",
		Keyword: keyword,
	}
}

func (AliExpress) IsSponsored(marker string) bool {
	return strings.EqualFold(strings.TrimSpace(marker), "ad")
}

func (AliExpress) CleanPrice(raw string) string {
	return stripCurrency(raw)
}

func (a AliExpress) ReviewCount(ctx context.Context, page browser.Page, entry string) (string, error) {
	return attrAt(ctx, page, entry, a.Selectors().Reviews, "aria-label")
}

func (a AliExpress) ProductLink(ctx context.Context, page browser.Page, entry string) (string, error) {
	href, err := page.Attribute(ctx, entry, "href")
	if err != nil {
		return "", err
	}
	return parser.AbsoluteURL(href, a.Origin()), nil
}
