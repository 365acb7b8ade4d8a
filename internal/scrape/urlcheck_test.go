package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"valid https", "https://www.example.ca/p/1", "https://www.example.ca/p/1", nil},
		{"host lowercased", "https://WWW.Example.CA/p/1", "https://www.example.ca/p/1", nil},
		{"fragment dropped", "https://example.ca/p/1#reviews", "https://example.ca/p/1", nil},
		{"port kept", "http://example.ca:8080/p", "http://example.ca:8080/p", nil},
		{"query kept", "https://example.ca/p?sku=42", "https://example.ca/p?sku=42", nil},
		{"whitespace trimmed", "  https://example.ca/p  ", "https://example.ca/p", nil},
		{"empty", "", "", domain.ErrInvalidURL},
		{"no scheme", "example.ca/p", "", domain.ErrInvalidURL},
		{"ftp scheme", "ftp://example.ca/p", "", domain.ErrInvalidURL},
		{"missing host", "https:///p", "", domain.ErrInvalidURL},
		{"malformed host", "https://ex..ample/p", "", domain.ErrInvalidURL},
		{"bare tld host", "https://localhost/p", "", domain.ErrInvalidURL},
		{"loopback literal", "http://127.0.0.1/admin", "", domain.ErrPrivateAddress},
		{"private literal", "http://192.168.1.10/router", "", domain.ErrPrivateAddress},
		{"link local literal", "http://169.254.169.254/latest/meta-data", "", domain.ErrPrivateAddress},
		{"ipv6 loopback", "http://[::1]/", "", domain.ErrPrivateAddress},
		{"public literal allowed", "http://93.184.216.34/p", "http://93.184.216.34/p", nil},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.raw)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: NormalizeURL(%q) err = %v, want %v", tt.name, tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: NormalizeURL(%q): %v", tt.name, tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: NormalizeURL(%q) = %q, want %q", tt.name, tt.raw, got, tt.want)
		}
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.canadiantire.ca/en/pdp/1", "canadiantire.ca"},
		{"https://WWW.Amazon.CA/dp/B0ABC", "amazon.ca"},
		{"http://shop.example.ca:8443/p", "shop.example.ca"},
		{"https://example.ca", "example.ca"},
	}
	for _, tt := range tests {
		got, err := ExtractDomain(tt.raw)
		if err != nil {
			t.Errorf("ExtractDomain(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}

	if _, err := ExtractDomain("https://"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("ExtractDomain with no host err = %v, want ErrInvalidURL", err)
	}
}

// stubDNS points the package resolver at a fixed answer table for the test.
func stubDNS(t *testing.T, answers map[string][]string) {
	t.Helper()
	orig := lookupHost
	lookupHost = func(_ context.Context, host string) ([]netip.Addr, error) {
		addrs, ok := answers[host]
		if !ok {
			return nil, fmt.Errorf("no such host %s", host)
		}
		out := make([]netip.Addr, len(addrs))
		for i, a := range addrs {
			out[i] = netip.MustParseAddr(a)
		}
		return out, nil
	}
	t.Cleanup(func() { lookupHost = orig })
}

func TestCheckSSRF(t *testing.T) {
	stubDNS(t, map[string][]string{
		"example.ca":  {"93.184.216.34"},
		"evil.ca":     {"93.184.216.34", "10.0.0.5"},
		"internal.ca": {"192.168.0.12"},
	})

	ctx := context.Background()

	if err := CheckSSRF(ctx, "https://example.ca/p/1"); err != nil {
		t.Errorf("public host rejected: %v", err)
	}
	if err := CheckSSRF(ctx, "https://internal.ca/p"); !errors.Is(err, domain.ErrPrivateAddress) {
		t.Errorf("private resolution err = %v, want ErrPrivateAddress", err)
	}
	// One private address among several public ones still rejects.
	if err := CheckSSRF(ctx, "https://evil.ca/p"); !errors.Is(err, domain.ErrPrivateAddress) {
		t.Errorf("mixed resolution err = %v, want ErrPrivateAddress", err)
	}
	if err := CheckSSRF(ctx, "https://unknown.ca/p"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("unresolvable host err = %v, want ErrInvalidURL", err)
	}
	// Literal addresses never hit DNS.
	if err := CheckSSRF(ctx, "http://127.0.0.1/"); !errors.Is(err, domain.ErrPrivateAddress) {
		t.Errorf("loopback literal err = %v, want ErrPrivateAddress", err)
	}
	if err := CheckSSRF(ctx, "http://93.184.216.34/"); err != nil {
		t.Errorf("public literal rejected: %v", err)
	}
}
