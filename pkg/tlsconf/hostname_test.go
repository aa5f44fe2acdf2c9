package tlsconf

import "testing"

func TestMatchHostname(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"db.example.com", "db.example.com", true},
		{"db.example.com", "DB.Example.COM", true},
		{"db.example.com", "other.example.com", false},

		// Wildcard covers exactly one label.
		{"*.example.com", "db.example.com", true},
		{"*.example.com", "a.b.example.com", false},
		{"*.example.com", "example.com", false},

		// Wildcard never crosses a dot boundary from the right either.
		{"*.b.example.com", "a.b.example.com", true},
		{"*.b.example.com", "a.c.example.com", false},

		// Only a full leading "*." is a wildcard.
		{"d*.example.com", "db.example.com", false},

		{"", "db.example.com", false},
		{"*.example.com", "", false},
		{"db.example.com.", "db.example.com", true},
	}
	for _, tt := range tests {
		if got := matchHostname(tt.pattern, tt.host); got != tt.want {
			t.Errorf("matchHostname(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.want)
		}
	}
}
