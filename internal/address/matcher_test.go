package address

import "testing"

func TestMatcher(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain ten digits", "5551234567", "51234567"},
		{"formatted", "(555) 123-4567", "51234567"},
		{"with country code", "+15551234567", "51234567"},
		{"international prefix", "0015551234567", "51234567"},
		{"short code", "40404", "40404"},
		{"exactly eight digits", "12345678", "12345678"},
		{"alpha sender id", "GOOGLE", "GOOGLE"},
		{"alpha with spaces", "  MY-BANK  ", "MY-BANK"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matcher(tt.input); got != tt.want {
				t.Errorf("Matcher(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	pairs := []struct {
		a, b string
		want bool
	}{
		{"5551234567", "(555) 123-4567", true},
		{"+15551234567", "555-123-4567", true},
		{"5551234567", "5559876543", false},
		{"GOOGLE", "GOOGLE", true},
		{"GOOGLE", "40404", false},
	}
	for _, p := range pairs {
		if got := SameAddress(p.a, p.b); got != p.want {
			t.Errorf("SameAddress(%q, %q) = %v, want %v", p.a, p.b, got, p.want)
		}
	}
}

func TestCanonicalJoinOrderIndependent(t *testing.T) {
	a := CanonicalJoin([]string{"5551234567", "5559876543"})
	b := CanonicalJoin([]string{"5559876543", "5551234567"})
	if a != b {
		t.Errorf("CanonicalJoin is order-dependent: %q vs %q", a, b)
	}
}

func TestCanonicalJoinDedupes(t *testing.T) {
	got := CanonicalJoin([]string{"5551234567", "(555) 123-4567"})
	if got != "5551234567" {
		t.Errorf("CanonicalJoin = %q, want single entry", got)
	}
}
