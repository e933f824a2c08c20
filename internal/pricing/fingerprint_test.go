package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleCriteria() SearchCriteria {
	return SearchCriteria{
		PropertyName: "Marriott Hotel",
		City:         "New York",
		State:        "NY",
		Country:      "USA",
		CheckIn:      "2024-02-01",
		CheckOut:     "2024-02-03",
	}
}

// TestFingerprintStable verifies equal normalized criteria yield the same
// fingerprint regardless of case and surrounding whitespace.
func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	base := sampleCriteria()
	messy := base
	messy.PropertyName = "  MARRIOTT   hotel "
	messy.City = "new york"
	messy.Country = " usa"

	require.Equal(t, Fingerprint(base), Fingerprint(messy))
}

// TestFingerprintDistinguishesFields ensures field boundaries are not lost,
// e.g. city "ab"+state "c" must differ from city "a"+state "bc".
func TestFingerprintDistinguishesFields(t *testing.T) {
	t.Parallel()

	a := sampleCriteria()
	a.City = "ab"
	a.State = "c"
	b := sampleCriteria()
	b.City = "a"
	b.State = "bc"

	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

// TestFingerprintChangesWithDates confirms different stays hash differently.
func TestFingerprintChangesWithDates(t *testing.T) {
	t.Parallel()

	a := sampleCriteria()
	b := sampleCriteria()
	b.CheckOut = "2024-02-04"

	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestCacheKeyShape(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"prices:marriott hotel:new york:usa:2024-02-01:2024-02-03:ny",
		CacheKey(sampleCriteria()),
	)

	noState := sampleCriteria()
	noState.State = ""
	require.Equal(t,
		"prices:marriott hotel:new york:usa:2024-02-01:2024-02-03",
		CacheKey(noState),
	)
}
