package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize returns a copy of the criteria with text fields case-folded and
// whitespace-trimmed. Two requests for the same stay normalize identically.
func Normalize(c SearchCriteria) SearchCriteria {
	c.PropertyName = foldField(c.PropertyName)
	c.City = foldField(c.City)
	c.State = foldField(c.State)
	c.Country = foldField(c.Country)
	c.CheckIn = strings.TrimSpace(c.CheckIn)
	c.CheckOut = strings.TrimSpace(c.CheckOut)
	return c
}

// Fingerprint derives a stable hex digest from normalized criteria. It is a
// pure function of its input: equal normalized criteria always produce the
// same fingerprint across process restarts.
func Fingerprint(c SearchCriteria) string {
	n := Normalize(c)
	h := sha256.New()
	for _, field := range []string{n.PropertyName, n.City, n.State, n.Country, n.CheckIn, n.CheckOut} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey builds the human-readable cache key for the criteria:
// prices:<property>:<city>:<country>:<checkin>:<checkout>[:<state>].
func CacheKey(c SearchCriteria) string {
	n := Normalize(c)
	var b strings.Builder
	b.WriteString("prices:")
	b.WriteString(n.PropertyName)
	b.WriteString(":")
	b.WriteString(n.City)
	b.WriteString(":")
	b.WriteString(n.Country)
	b.WriteString(":")
	b.WriteString(n.CheckIn)
	b.WriteString(":")
	b.WriteString(n.CheckOut)
	if n.State != "" {
		b.WriteString(":")
		b.WriteString(n.State)
	}
	return b.String()
}

func foldField(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
