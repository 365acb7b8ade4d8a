package scrape

import "testing"

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"19.99", 19.99, true},
		{"$19.99", 19.99, true},
		{"CAD 1,299.00", 1299.00, true},
		{"€49,99", 4999, true}, // comma stripped, not treated as decimal
		{"  $5  ", 5, true},
		{"$12.99 - $15.99", 12.99, true},
		{"0.01", 0.01, true},
		{"1000000", 1_000_000, true},
		{"", 0, false},
		{"free", 0, false},
		{"0", 0, false},          // below minimum
		{"0.001", 0, false},      // below minimum
		{"1000000.01", 0, false}, // above maximum
		{"-19.99", 0, false},     // leading dash reads as an empty range start
		{"$ - $15.99", 0, false}, // range with empty first half
		{"1.2.3", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.raw)
		if ok != tt.ok {
			t.Errorf("ParsePrice(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParsePrice(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestValidPriceRounds(t *testing.T) {
	got, ok := ValidPrice(19.999)
	if !ok || got != 20.00 {
		t.Errorf("ValidPrice(19.999) = %v, %v, want 20.00, true", got, ok)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "Sony WH-1000XM5", 500, "Sony WH-1000XM5"},
		{"collapses whitespace", "  too \t many\n\nspaces  ", 500, "too many spaces"},
		{"strips control chars", "abc\x00\x01def", 500, "abcdef"},
		{"strips junk punctuation runs", "deal!!!! ???<<<>>> now", 500, "deal now"},
		{"truncates with ellipsis", "abcdefghij", 5, "abcde..."},
		{"empty", "", 500, ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in, tt.max); got != tt.want {
			t.Errorf("%s: CleanText(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestCleanUPC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0 27242 92231 5", "027242922315"},
		{"ABC-123", "ABC123"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanUPC(tt.in); got != tt.want {
			t.Errorf("CleanUPC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanImageURL(t *testing.T) {
	const page = "https://www.example.ca/products/widget"

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"absolute https", "https://cdn.example.ca/img.jpg", "https://cdn.example.ca/img.jpg"},
		{"absolute http", "http://cdn.example.ca/img.jpg", "http://cdn.example.ca/img.jpg"},
		{"protocol relative", "//cdn.example.ca/img.jpg", "https://cdn.example.ca/img.jpg"},
		{"root relative", "/images/img.jpg", "https://www.example.ca/images/img.jpg"},
		{"path relative", "img.jpg", "https://www.example.ca/products/img.jpg"},
		{"empty", "", ""},
		{"data URI dropped", "data:image/png;base64,AAAA", ""},
		{"javascript dropped", "javascript:alert(1)", ""},
	}
	for _, tt := range tests {
		if got := CleanImageURL(tt.raw, page); got != tt.want {
			t.Errorf("%s: CleanImageURL(%q) = %q, want %q", tt.name, tt.raw, got, tt.want)
		}
	}
}
