package records

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestCoerceTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"int seconds", 1700000000, "2023-11-14T22:13:20.000Z"},
		{"float seconds with fraction", 1700000000.5, "2023-11-14T22:13:20.500Z"},
		{"int64 millis", int64(1700000000123), "2023-11-14T22:13:20.123Z"},
		{"numeric string seconds", "1700000000", "2023-11-14T22:13:20.000Z"},
		{"numeric string millis", "1700000000000", "2023-11-14T22:13:20.000Z"},
		{"json number", json.Number("1700000000"), "2023-11-14T22:13:20.000Z"},
		{"zero", 0, ""},
		{"negative", -5, ""},
		{"nan", math.NaN(), ""},
		{"rfc3339 offset", "2024-01-02T03:04:05+02:00", "2024-01-02T01:04:05.000Z"},
		{"rfc3339 nano", "2024-01-02T03:04:05.123456Z", "2024-01-02T03:04:05.123Z"},
		{"mysql datetime", "2024-01-02 03:04:05", "2024-01-02T03:04:05.000Z"},
		{"naive iso", "2024-01-02T03:04:05", "2024-01-02T03:04:05.000Z"},
		{"rfc1123", "Tue, 14 Nov 2023 22:13:20 GMT", "2023-11-14T22:13:20.000Z"},
		{"date only", "2024-01-02", "2024-01-02T00:00:00.000Z"},
		{"us date", "01/02/2024", "2024-01-02T00:00:00.000Z"},
		{"garbage", "not-a-date", ""},
		{"blank", "   ", ""},
		{"bool", true, ""},
		{"huge", 1e300, ""},
		{"time", time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600)), "2024-05-06T06:08:09.000Z"},
		{"zero time", time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoerceTimestamp(tt.in); got != tt.want {
				t.Errorf("CoerceTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceTimestamp_DatePrefixIsValid(t *testing.T) {
	for _, in := range []any{1700000000, "2024-02-29", "Tue, 14 Nov 2023 22:13:20 GMT"} {
		ts := CoerceTimestamp(in)
		if _, err := time.Parse("2006-01-02", datePart(ts)); err != nil {
			t.Errorf("date part of %q is not a valid date: %v", ts, err)
		}
	}
}
