package headless

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/accomopricer/accomopricer/internal/pricing"
	"github.com/accomopricer/accomopricer/internal/source/collyfetch"
)

func testConfig() Config {
	return Config{
		Platform:  "airbnb",
		SearchURL: "https://airbnb.example.com/s?q={property}&in={checkin}",
		Selectors: collyfetch.Selectors{
			Listing: "div.card",
			Price:   "span.price",
			Name:    "span.name",
			URL:     "a",
			Rating:  "span.rating",
			Reviews: "span.reviews",
		},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Platform = ""
	_, err := New(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.SearchURL = ""
	_, err = New(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Selectors.Price = ""
	_, err = New(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.MaxParallel = -1
	_, err = New(cfg)
	require.Error(t, err)
}

func TestBuildURLEscapesCriteria(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig())
	require.NoError(t, err)
	defer f.Close()

	got := f.buildURL(pricing.SearchCriteria{
		PropertyName: "Marriott Hotel",
		CheckIn:      "2024-02-01",
	})
	require.Equal(t, "https://airbnb.example.com/s?q=Marriott+Hotel&in=2024-02-01", got)
}

func TestExtractScriptEmbedsSelectors(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig())
	require.NoError(t, err)
	defer f.Close()

	script := f.extractScript()
	require.True(t, strings.Contains(script, `"div.card"`))
	require.True(t, strings.Contains(script, `"span.price"`))
	require.True(t, strings.Contains(script, "JSON.stringify"))
}

func TestToQuotesSkipsUnparseable(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig())
	require.NoError(t, err)
	defer f.Close()

	quotes := f.toQuotes([]rawListing{
		{Price: "$189.50", Name: " Marriott Marquis ", URL: "https://a/1", Rating: "4.6", Reviews: "1,204 reviews"},
		{Price: "Sold out", Name: "Gone"},
		{Price: "210", Name: "Marriott Downtown"},
	})
	require.Len(t, quotes, 2)
	require.Equal(t, "airbnb", quotes[0].Source)
	require.InDelta(t, 189.5, quotes[0].Amount, 0.001)
	require.Equal(t, "Marriott Marquis", quotes[0].PropertyName)
	require.InDelta(t, 4.6, quotes[0].Rating, 0.001)
	require.Equal(t, 1204, quotes[0].ReviewCount)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxParallel = 1
	f, err := New(cfg)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, f.acquire(ctx))

	f.release()
	require.NoError(t, f.acquire(context.Background()))
	f.release()
}
