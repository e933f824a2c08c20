package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	p := newBackoffPolicy()
	for attempt := 0; attempt < 12; attempt++ {
		wait := p.Backoff(attempt, 0)
		ceiling := p.baseDelay << uint(attempt)
		if ceiling > p.maxDelay || ceiling <= 0 {
			ceiling = p.maxDelay
		}
		require.GreaterOrEqual(t, wait, ceiling/2, "attempt %d", attempt)
		require.LessOrEqual(t, wait, ceiling, "attempt %d", attempt)
	}
}

func TestBackoffRespectsFloor(t *testing.T) {
	t.Parallel()

	p := newBackoffPolicy()
	floor := 5 * time.Second
	for attempt := 0; attempt < 4; attempt++ {
		require.GreaterOrEqual(t, p.Backoff(attempt, floor), floor)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unsupported", err: pricing.ErrSourceUnsupported, want: false},
		{name: "wrapped unsupported", err: fmt.Errorf("airbnb: %w", pricing.ErrSourceUnsupported), want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "transport", err: errors.New("connection reset"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
