package static

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

func testCriteria() pricing.SearchCriteria {
	return pricing.SearchCriteria{
		PropertyName: "Marriott Hotel",
		City:         "New York",
		State:        "NY",
		Country:      "USA",
		CheckIn:      "2024-02-01",
		CheckOut:     "2024-02-03",
	}
}

func TestFetchDeterministic(t *testing.T) {
	t.Parallel()

	f := New(Config{Platform: "airbnb", QuoteCount: 4})
	first, err := f.Fetch(context.Background(), testCriteria())
	require.NoError(t, err)
	require.Len(t, first, 4)

	second, err := f.Fetch(context.Background(), testCriteria())
	require.NoError(t, err)
	require.Equal(t, first, second)

	for _, q := range first {
		require.Equal(t, "airbnb", q.Source)
		require.Equal(t, "USD", q.Currency)
		require.Positive(t, q.Amount)
		require.True(t, q.Available)
		require.NotEmpty(t, q.PropertyName)
		require.NotEmpty(t, q.URL)
	}
}

func TestFetchPlatformsDisagree(t *testing.T) {
	t.Parallel()

	a, err := New(Config{Platform: "airbnb"}).Fetch(context.Background(), testCriteria())
	require.NoError(t, err)
	b, err := New(Config{Platform: "booking"}).Fetch(context.Background(), testCriteria())
	require.NoError(t, err)
	require.NotEqual(t, a[0].Amount, b[0].Amount)
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	f := New(Config{Platform: "airbnb", Latency: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, testCriteria())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
