package credentials

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero expiry is expired", time.Time{}, true},
		{"already past", now.Add(-time.Hour), true},
		{"inside safety margin", now.Add(30 * time.Second), true},
		{"exactly at margin", now.Add(SafetyMargin), true},
		{"just beyond margin", now.Add(SafetyMargin + time.Second), false},
		{"comfortably fresh", now.Add(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := CredentialRecord{Material: "m", Expiry: tc.expiry}
			if got := rec.IsExpired(now); got != tc.want {
				t.Errorf("IsExpired = %v, want %v", got, tc.want)
			}
		})
	}
}
