package identity

import "testing"

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		found bool
	}{
		{"alice@example.com", "alice@example.com", true},
		{"Alice <alice@example.com>", "alice@example.com", true},
		{"<alice@example.com>", "alice@example.com", true},
		{"  alice@example.com  ", "alice@example.com", true},
		{"ALICE@EXAMPLE.COM", "ALICE@EXAMPLE.COM", true},
		{"alice+tag@sub.example.com", "alice+tag@sub.example.com", true},
		{"not-an-email", "", false},
		{"", "", false},
		{"alice@localhost", "", false},
		{"@example.com", "", false},
		{"alice@", "", false},
		{"alice@.example.com", "", false},
		{"alice@example.com, bob@example.com", "", false},
		{"Alice Example", "", false},
	}
	for _, tt := range tests {
		got, found := ExtractEmail(tt.in)
		if got != tt.want || found != tt.found {
			t.Errorf("ExtractEmail(%q) = (%q, %v); want (%q, %v)",
				tt.in, got, found, tt.want, tt.found)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		// A bare address is wrapped.
		{"alice@example.com", "<alice@example.com>"},
		// Already-bracketed and display-name forms stay as typed.
		{"<alice@example.com>", "<alice@example.com>"},
		{"Alice <alice@example.com>", "Alice <alice@example.com>"},
		// Non-email identities stay as typed.
		{"not-an-email", "not-an-email"},
		{"", ""},
		// Whitespace keeps the input from being "exactly" the address.
		{" alice@example.com", " alice@example.com"},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"alice@example.com",
		"<alice@example.com>",
		"Alice <alice@example.com>",
		"not-an-email",
		"bob@sub.example.org",
		"",
		"  spaced@example.com  ",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("Canonicalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
