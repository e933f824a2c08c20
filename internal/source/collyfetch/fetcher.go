// Package collyfetch implements a platform fetcher over plain HTTP using
// gocolly. It carries no per-site parse logic: a selector set in config maps
// listing markup to quotes, so a new server-rendered platform is a config
// entry, not code.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

// Selectors names the CSS paths of the quote fields inside one listing
// element.
type Selectors struct {
	// Listing matches one result card; the rest are resolved within it.
	Listing string
	Price   string
	Name    string
	URL     string
	Rating  string
	Reviews string
}

// Config controls one platform's collector.
type Config struct {
	// Platform is the source name the quotes carry.
	Platform string
	// SearchURL is the query URL with {property}, {city}, {state},
	// {country}, {checkin} and {checkout} placeholders. Values are
	// query-escaped before substitution.
	SearchURL string
	UserAgent string
	Timeout   time.Duration
	Currency  string
	Selectors Selectors
}

// Fetcher implements pricing.SourceFetcher with a Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
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
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &Fetcher{cfg: cfg, base: c}, nil
}

// Name implements pricing.SourceFetcher.
func (f *Fetcher) Name() string { return f.cfg.Platform }

// Fetch runs one search request and maps matched listings to quotes.
func (f *Fetcher) Fetch(ctx context.Context, criteria pricing.SearchCriteria) ([]pricing.PriceQuote, error) {
	searchURL := f.buildURL(criteria)

	collector := f.base.Clone()
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}

	var (
		quotes   []pricing.PriceQuote
		fetchErr error
	)

	collector.OnHTML(f.cfg.Selectors.Listing, func(e *colly.HTMLElement) {
		quote, ok := f.extractQuote(e)
		if ok {
			quotes = append(quotes, quote)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = fmt.Errorf("%s: fetch %s: %w", f.cfg.Platform, searchURL, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(searchURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: fetch canceled: %w", f.cfg.Platform, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%s: visit %s: %w", f.cfg.Platform, searchURL, err)
		}
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	return quotes, nil
}

func (f *Fetcher) extractQuote(e *colly.HTMLElement) (pricing.PriceQuote, bool) {
	sel := f.cfg.Selectors
	amount, err := ParsePrice(e.ChildText(sel.Price))
	if err != nil {
		// Cards without a parseable price (sold out, ads) are skipped,
		// not fatal.
		return pricing.PriceQuote{}, false
	}

	quote := pricing.PriceQuote{
		Source:    f.cfg.Platform,
		Currency:  f.cfg.Currency,
		Amount:    amount,
		Available: true,
	}
	if sel.Name != "" {
		quote.PropertyName = strings.TrimSpace(e.ChildText(sel.Name))
	}
	if sel.URL != "" {
		if href := e.ChildAttr(sel.URL, "href"); href != "" {
			quote.URL = e.Request.AbsoluteURL(href)
		}
	}
	if sel.Rating != "" {
		quote.Rating, _ = parseFloatLoose(e.ChildText(sel.Rating))
	}
	if sel.Reviews != "" {
		if n, err := parseFloatLoose(e.ChildText(sel.Reviews)); err == nil {
			quote.ReviewCount = int(n)
		}
	}
	return quote, true
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

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
