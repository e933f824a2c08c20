// Package headless implements a platform fetcher over headless Chrome for
// platforms that only render prices client-side. Like the colly fetcher it is
// selector-driven; quotes are extracted from the rendered DOM in one evaluate
// round trip.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/accomopricer/accomopricer/internal/pricing"
	"github.com/accomopricer/accomopricer/internal/source/collyfetch"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// Platform is the source name the quotes carry.
	Platform string
	// SearchURL uses the same placeholders as the colly fetcher.
	SearchURL string
	// Selectors map the rendered listing markup, as in the colly fetcher.
	Selectors collyfetch.Selectors
	// MaxParallel caps concurrent browser tabs (0 = unlimited).
	MaxParallel int
	UserAgent   string
	// NavigationTimeout bounds one page load and extraction (default 45s).
	NavigationTimeout time.Duration
	Currency          string
}

// Fetcher implements pricing.SourceFetcher using chromedp.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher backed by a shared Chrome allocator.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Platform == "" {
		return nil, fmt.Errorf("platform name is required")
	}
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("%s: search url is required", cfg.Platform)
	}
	if cfg.Selectors.Listing == "" || cfg.Selectors.Price == "" {
		return nil, fmt.Errorf("%s: listing and price selectors are required", cfg.Platform)
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Name implements pricing.SourceFetcher.
func (f *Fetcher) Name() string { return f.cfg.Platform }

// rawListing is the JSON shape the in-page extraction script returns.
type rawListing struct {
	Price   string `json:"price"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Rating  string `json:"rating"`
	Reviews string `json:"reviews"`
}

// Fetch renders the search page and maps listings to quotes.
func (f *Fetcher) Fetch(ctx context.Context, criteria pricing.SearchCriteria) ([]pricing.PriceQuote, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Honor the caller's deadline too; chromedp contexts do not chain off it.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	searchURL := f.buildURL(criteria)
	var rawJSON string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.WaitVisible(f.cfg.Selectors.Listing, chromedp.ByQuery),
		chromedp.Evaluate(f.extractScript(), &rawJSON),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: fetch canceled: %w", f.cfg.Platform, ctx.Err())
		}
		return nil, fmt.Errorf("%s: chromedp run: %w", f.cfg.Platform, err)
	}

	var listings []rawListing
	if err := json.Unmarshal([]byte(rawJSON), &listings); err != nil {
		return nil, fmt.Errorf("%s: decode listings: %w", f.cfg.Platform, err)
	}
	return f.toQuotes(listings), nil
}

func (f *Fetcher) toQuotes(listings []rawListing) []pricing.PriceQuote {
	quotes := make([]pricing.PriceQuote, 0, len(listings))
	for _, l := range listings {
		amount, err := collyfetch.ParsePrice(l.Price)
		if err != nil {
			continue
		}
		quote := pricing.PriceQuote{
			Source:       f.cfg.Platform,
			Currency:     f.cfg.Currency,
			Amount:       amount,
			Available:    true,
			PropertyName: strings.TrimSpace(l.Name),
			URL:          l.URL,
		}
		if rating, err := collyfetch.ParsePrice(l.Rating); err == nil {
			quote.Rating = rating
		}
		if reviews, err := collyfetch.ParsePrice(l.Reviews); err == nil {
			quote.ReviewCount = int(reviews)
		}
		quotes = append(quotes, quote)
	}
	return quotes
}

// extractScript builds the in-page extraction: one JSON string out, no
// round trip per listing.
func (f *Fetcher) extractScript() string {
	sel := f.cfg.Selectors
	return fmt.Sprintf(`JSON.stringify(Array.from(document.querySelectorAll(%q)).map(function(el) {
	var text = function(s) { var n = s ? el.querySelector(s) : null; return n ? n.textContent : ""; };
	var href = function(s) { var n = s ? el.querySelector(s) : null; return n && n.href ? n.href : ""; };
	return {
		price: text(%q),
		name: text(%q),
		url: href(%q),
		rating: text(%q),
		reviews: text(%q)
	};
}))`, sel.Listing, sel.Price, sel.Name, sel.URL, sel.Rating, sel.Reviews)
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) buildURL(criteria pricing.SearchCriteria) string {
	r := strings.NewReplacer(
		"{property}", url.QueryEscape(criteria.PropertyName),
		"{city}", url.QueryEscape(criteria.City),
		"{state}", url.QueryEscape(criteria.State),
		"{country}", url.QueryEscape(criteria.Country),
		"{checkin}", url.QueryEscape(criteria.CheckIn),
		"{checkout}", url.QueryEscape(criteria.CheckOut),
	)
	return r.Replace(f.cfg.SearchURL)
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter != nil {
		<-f.limiter
	}
}
