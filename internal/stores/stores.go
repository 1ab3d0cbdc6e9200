// Package stores holds the per-marketplace knowledge used to search a site
// and read its result listing: selectors, start offsets, sponsorship and
// price rules, and link resolution.
package stores

import (
	"context"
	"strings"

	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/parser"
)

// Adapter is implemented once per marketplace. Implementations carry only
// configuration; the page is passed in by the caller on every call.
type Adapter interface {
	Name() string
	Origin() string
	Selectors() Selectors
	StartIndex() int
	SearchTarget(keyword string) Navigation
	IsSponsored(marker string) bool
	CleanPrice(raw string) string
	ReviewCount(ctx context.Context, page browser.Page, entry string) (string, error)
	ProductLink(ctx context.Context, page browser.Page, entry string) (string, error)
}

// Selectors are CSS selectors relative to one listing entry, except Product
// which addresses the entry containers and the search form selectors which
// are page level. An empty selector marks a field the site does not expose.
type Selectors struct {
	Product    string
	Image      string
	Title      string
	Rating     string
	Reviews    string
	Sponsored  string
	BestSeller string
	Price      string
	Sales      string
	Link       string

	SearchInput  string
	SearchSubmit string
}

// Navigation tells the caller how to reach the result listing: either load
// URL directly, or open Home, type the keyword into Input and click Submit.
type Navigation struct {
	URL     string
	Home    string
	Input   string
	Submit  string
	Keyword string
}

func (n Navigation) Interactive() bool {
	return n.URL == ""
}

const (
	NameAmazon     = "amazon"
	NameAliExpress = "aliexpress"
	NameEbay       = "ebay"
	NameTarget     = "target"
	NameWalmart    = "walmart"
)

var currencyReplacer = strings.NewReplacer("US", "", "$", "", ",", "", " ", "", "\u00a0", "")

// stripCurrency removes the currency decoration and returns "" unless what
// remains is a plain positive decimal.
func stripCurrency(raw string) string {
	s := currencyReplacer.Replace(strings.TrimSpace(raw))
	if _, ok := parser.Price(s); !ok {
		return ""
	}
	return s
}

func attrAt(ctx context.Context, page browser.Page, entry, field, name string) (string, error) {
	sel := browser.Within(entry, field)
	if sel == "" {
		return "", nil
	}
	return page.Attribute(ctx, sel, name)
}

func textAt(ctx context.Context, page browser.Page, entry, field string) (string, error) {
	sel := browser.Within(entry, field)
	if sel == "" {
		return "", nil
	}
	return page.Text(ctx, sel)
}

// hrefAt reads the href under entry and resolves it against origin.
func hrefAt(ctx context.Context, page browser.Page, entry, field, origin string) (string, error) {
	href, err := attrAt(ctx, page, entry, field, "href")
	if err != nil {
		return "", err
	}
	return parser.AbsoluteURL(href, origin), nil
}
