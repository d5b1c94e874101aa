package credential

import (
	"fmt"
	"strconv"
	"time"
)

// ParseExpiry implements the expiry-parsing policy of spec §4.1: expires_at
// may arrive as an ISO-8601 string, a SQL datetime string, or a numeric
// epoch (seconds, or milliseconds when the value exceeds 1e12). Any other
// encoding is a fatal error for that row — it is never silently dropped or
// defaulted.
func ParseExpiry(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int64:
		return parseEpoch(v), nil
	case float64:
		return parseEpoch(int64(v)), nil
	case string:
		return parseExpiryString(v)
	default:
		return time.Time{}, fmt.Errorf("credential: unsupported expires_at encoding %T", raw)
	}
}

func parseEpoch(v int64) time.Time {
	const msThreshold = 1_000_000_000_000 // 10^12
	if v > msThreshold {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

func parseExpiryString(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return parseEpoch(n), nil
	}
	return time.Time{}, fmt.Errorf("credential: unrecognized expires_at encoding %q", s)
}
