package records

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	isoMillis = "2006-01-02T15:04:05.000Z"
	// 9999-12-31T23:59:59.999Z
	maxEpochMillis = 253402300799999
)

// stringLayouts are tried in order. Zone-less layouts are read as UTC.
var stringLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02",
	"01/02/2006",
}

var numericString = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// CoerceTimestamp renders v as an ISO-8601 UTC timestamp with millisecond
// precision, or "" when v cannot be read as a point in time. Numbers are UNIX
// epochs: seconds when the integer part has at most 10 digits, milliseconds
// otherwise.
func CoerceTimestamp(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return formatTimestamp(t)
	case *time.Time:
		if t == nil {
			return ""
		}
		return CoerceTimestamp(*t)
	case float64:
		return fromEpoch(t)
	case float32:
		return fromEpoch(float64(t))
	case int:
		return fromEpoch(float64(t))
	case int64:
		return fromEpoch(float64(t))
	case int32:
		return fromEpoch(float64(t))
	case json.Number:
		return CoerceTimestamp(t.String())
	case string:
		return fromString(t)
	default:
		return ""
	}
}

func fromString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if numericString.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ""
		}
		return fromEpoch(f)
	}
	for _, layout := range stringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return formatTimestamp(t)
		}
	}
	return ""
}

func fromEpoch(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return ""
	}
	intPart := strconv.FormatFloat(math.Trunc(f), 'f', 0, 64)
	var ms float64
	if len(intPart) <= 10 {
		ms = f * 1000
	} else {
		ms = f
	}
	if ms > maxEpochMillis {
		return ""
	}
	return formatTimestamp(time.UnixMilli(int64(math.Round(ms))))
}

// formatTimestamp refuses years that do not fit the four-digit ISO form.
func formatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Year() < 1 || t.Year() > 9999 {
		return ""
	}
	return t.Format(isoMillis)
}
