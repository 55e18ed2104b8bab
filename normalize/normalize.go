// Package normalize provides canonical forms for the loosely-typed values
// carried by chain events: chain names, hex identifiers and timestamps.
package normalize

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Chain returns the canonical lower-case chain identifier.
// Quotes and surrounding whitespace are stripped; an empty input stays empty.
func Chain(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `"`, "")
	return strings.ToLower(name)
}

// EqualFold reports whether two identifiers are equal ignoring case.
// Both sides are trimmed first; two empty strings are not considered equal.
func EqualFold(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// ToHex coerces a value into a 0x-prefixed lower-case hex string.
// Accepted inputs: 0x-prefixed strings, bare hex strings, base64-encoded
// bytes and raw byte slices. Anything else is returned unchanged (quotes
// stripped), since identifiers such as cosmos tx hashes are already usable.
func ToHex(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		if len(x) == 0 {
			return ""
		}
		return "0x" + hex.EncodeToString(x)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), `"`, "")
		if s == "" {
			return ""
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return "0x" + strings.ToLower(s[2:])
		}
		if isHex(s) && len(s)%2 == 0 {
			return "0x" + strings.ToLower(s)
		}
		if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) > 0 {
			return "0x" + hex.EncodeToString(b)
		}
		return s
	default:
		return ""
	}
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// ToJSON parses a JSON object out of a string, tolerating surrounding
// whitespace. Returns nil when the input is not a JSON object.
func ToJSON(s string) map[string]any {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// Granularity buckets a timestamp into the calendar resolutions persisted
// alongside every record. All values are unix milliseconds in UTC.
type Granularity struct {
	Ms      int64 `json:"ms" bson:"ms"`
	Hour    int64 `json:"hour" bson:"hour"`
	Day     int64 `json:"day" bson:"day"`
	Week    int64 `json:"week" bson:"week"`
	Month   int64 `json:"month" bson:"month"`
	Quarter int64 `json:"quarter" bson:"quarter"`
	Year    int64 `json:"year" bson:"year"`
}

// NewGranularity buckets t into hour/day/week/month/quarter/year starts.
// Weeks start on Sunday.
func NewGranularity(t time.Time) Granularity {
	t = t.UTC()
	hour := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	week := day.AddDate(0, 0, -int(day.Weekday()))
	month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	quarterMonth := time.Month((int(t.Month())-1)/3*3 + 1)
	quarter := time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC)
	year := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	return Granularity{
		Ms:      t.UnixMilli(),
		Hour:    hour.UnixMilli(),
		Day:     day.UnixMilli(),
		Week:    week.UnixMilli(),
		Month:   month.UnixMilli(),
		Quarter: quarter.UnixMilli(),
		Year:    year.UnixMilli(),
	}
}
