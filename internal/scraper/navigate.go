package scraper

import (
	"context"
	"fmt"

	"github.com/maltedev/store-scraper/internal/browser"
	"github.com/maltedev/store-scraper/internal/models"
	"github.com/maltedev/store-scraper/internal/stores"
)

// Navigate brings page to the result listing described by nav. Any failure
// is reported as an ErrNavigation ScrapeError for store.
func Navigate(ctx context.Context, page browser.Page, store string, nav stores.Navigation) error {
	if !nav.Interactive() {
		if err := page.Navigate(ctx, nav.URL); err != nil {
			return models.NewScrapeError(models.ErrNavigation, store, "failed to load "+nav.URL, err)
		}
		return nil
	}

	if nav.Home == "" || nav.Input == "" || nav.Submit == "" {
		return models.NewScrapeError(models.ErrNavigation, store, "incomplete search sequence", nil)
	}

	if err := page.Navigate(ctx, nav.Home); err != nil {
		return models.NewScrapeError(models.ErrNavigation, store, "failed to load "+nav.Home, err)
	}
	if err := page.Type(ctx, nav.Input, nav.Keyword); err != nil {
		return models.NewScrapeError(models.ErrNavigation, store, "failed to type keyword", err)
	}
	if err := page.Click(ctx, nav.Submit); err != nil {
		return models.NewScrapeError(models.ErrNavigation, store, fmt.Sprintf("failed to submit search %q", nav.Keyword), err)
	}
	return nil
}
