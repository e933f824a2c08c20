// Package static provides a deterministic fixture fetcher for development
// and tests. Quotes are derived from the search criteria, so identical
// searches always yield identical prices.
package static

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"time"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

// Config controls the shape of the fixture data.
type Config struct {
	// Platform is the source name the quotes carry.
	Platform string
	// BasePrice anchors the nightly rate (default 120).
	BasePrice float64
	// QuoteCount is how many listings to fabricate (default 3).
	QuoteCount int
	// Latency is an artificial delay before responding, for exercising
	// timeouts and streaming in development.
	Latency time.Duration
	// Currency defaults to USD.
	Currency string
}

// Fetcher fabricates plausible quotes without any network traffic.
type Fetcher struct {
	cfg Config
}

// New constructs a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 120
	}
	if cfg.QuoteCount <= 0 {
		cfg.QuoteCount = 3
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Fetcher{cfg: cfg}
}

// Name implements pricing.SourceFetcher.
func (f *Fetcher) Name() string { return f.cfg.Platform }

// Fetch implements pricing.SourceFetcher.
func (f *Fetcher) Fetch(ctx context.Context, criteria pricing.SearchCriteria) ([]pricing.PriceQuote, error) {
	if f.cfg.Latency > 0 {
		select {
		case <-time.After(f.cfg.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	seed := f.seed(criteria)
	quotes := make([]pricing.PriceQuote, 0, f.cfg.QuoteCount)
	for i := 0; i < f.cfg.QuoteCount; i++ {
		// Spread listings around the base price in 2.5 steps, offset by a
		// stable per-search jitter so platforms disagree realistically.
		jitter := float64((seed>>uint(i*8))%4000) / 100
		amount := f.cfg.BasePrice + jitter + float64(i)*2.5
		quotes = append(quotes, pricing.PriceQuote{
			Source:       f.cfg.Platform,
			Currency:     f.cfg.Currency,
			Amount:       amount,
			Available:    true,
			PropertyName: fmt.Sprintf("%s (%s listing %d)", criteria.PropertyName, f.cfg.Platform, i+1),
			URL: fmt.Sprintf("https://%s.example.com/search?q=%s",
				f.cfg.Platform, url.QueryEscape(criteria.PropertyName)),
			Rating:      3.5 + float64(seed%15)/10,
			ReviewCount: int(seed%900) + 12,
		})
	}
	return quotes, nil
}

func (f *Fetcher) seed(criteria pricing.SearchCriteria) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(pricing.Fingerprint(criteria)))
	_, _ = h.Write([]byte(f.cfg.Platform))
	return h.Sum64()
}
