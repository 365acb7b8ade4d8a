package scrape

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// domainPattern matches a bare hostname: dot-separated labels of letters,
// digits and hyphens, ending in an alphabetic TLD of at least two chars.
var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,}$`)

// lookupHost resolves a hostname to all of its addresses. Package-level so
// tests can stub DNS.
var lookupHost = func(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// NormalizeURL validates a product URL and returns its canonical form:
// http or https scheme, lowercased host, fragment dropped. Malformed URLs
// map to domain.ErrInvalidURL; literal IP hosts in private ranges map to
// domain.ErrPrivateAddress.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", domain.ErrInvalidURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivateAddr(addr) {
			return "", fmt.Errorf("%w: %s", domain.ErrPrivateAddress, host)
		}
	} else if !domainPattern.MatchString(host) {
		return "", fmt.Errorf("%w: malformed host %q", domain.ErrInvalidURL, host)
	}

	u.Fragment = ""
	u.RawFragment = ""
	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	return u.String(), nil
}

// ExtractDomain returns the store domain for a URL: lowercased, port
// stripped, leading "www." removed. This is the key used for whitelist and
// rate limit lookups.
func ExtractDomain(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}

// CheckSSRF resolves the URL's host and rejects it when any resolved
// address sits in a private, loopback or link-local range. Hosts that do
// not resolve at all map to domain.ErrInvalidURL; a URL that fails here
// must not reach the fetcher.
func CheckSSRF(ctx context.Context, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s", domain.ErrPrivateAddress, host)
		}
		return nil
	}

	addrs, err := lookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", domain.ErrInvalidURL, host, err)
	}
	for _, addr := range addrs {
		if isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s resolves to %s", domain.ErrPrivateAddress, host, addr)
		}
	}
	return nil
}

// isPrivateAddr reports whether the address is non-routable: RFC 1918 and
// ULA ranges, loopback, link-local, or unspecified.
func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified()
}
