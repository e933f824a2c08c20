package collyfetch

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePrice extracts a positive amount from scraped price text such as
// "$189", "1.234,56 €" or "From $99 / night". European decimal commas are
// normalized when unambiguous.
func ParsePrice(text string) (float64, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return 0, fmt.Errorf("empty price text")
	}

	// Keep the first run of digits with separators.
	var b strings.Builder
	started := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			started = true
			b.WriteRune(r)
		case (r == '.' || r == ',') && started:
			b.WriteRune(r)
		default:
			if started {
				goto done
			}
		}
	}
done:
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return 0, fmt.Errorf("no digits in price text %q", raw)
	}

	num = normalizeSeparators(num)
	amount, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("non-positive price %q", raw)
	}
	return amount, nil
}

// parseFloatLoose pulls the first number from free-form text such as
// "4.6" or "1,204 reviews". Zero is a valid value here, unlike prices.
func parseFloatLoose(text string) (float64, error) {
	var b strings.Builder
	started := false
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9':
			started = true
			b.WriteRune(r)
		case (r == '.' || r == ',') && started:
			b.WriteRune(r)
		default:
			if started {
				goto done
			}
		}
	}
done:
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return 0, fmt.Errorf("no digits in %q", text)
	}
	return strconv.ParseFloat(normalizeSeparators(num), 64)
}

// normalizeSeparators rewrites "1.234,56" to "1234.56" and "1,204" to "1204".
// A trailing comma counts as the decimal mark only when a dot precedes it or
// at most two digits follow it; a bare comma with three digits after it is a
// thousands separator.
func normalizeSeparators(num string) string {
	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	if lastComma > lastDot {
		decimals := len(num) - lastComma - 1
		if lastDot >= 0 || decimals <= 2 {
			head := strings.ReplaceAll(num[:lastComma], ".", "")
			head = strings.ReplaceAll(head, ",", "")
			return head + "." + num[lastComma+1:]
		}
	}
	return strings.ReplaceAll(num, ",", "")
}
