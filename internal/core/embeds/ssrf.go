package embeds

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// blockedHostnames are rejected by name before any DNS resolution
var blockedHostnames = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"0.0.0.0":   true,
}

var privateNetworks = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // carrier-grade NAT
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("embeds: bad CIDR %q: %v", cidr, err))
		}
		nets = append(nets, network)
	}
	return nets
}

// isPrivateIP checks if an IP is in a private/reserved range
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// parseFetchableURL checks the syntax part of the policy: an http(s) URL with a host
func parseFetchableURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// ValidateURL applies the static part of the SSRF policy: the URL must be
// http(s) with a host, must not name a loopback/unspecified host, and must not
// be a literal private or reserved IP. DNS-based checks happen at fetch time.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := parseFetchableURL(rawURL)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(u.Hostname())
	if blockedHostnames[host] {
		return nil, fmt.Errorf("%w: host %q", ErrBlockedURL, host)
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return nil, fmt.Errorf("%w: private address %s", ErrBlockedURL, ip)
	}
	return u, nil
}

// lookupFunc resolves a hostname to its addresses
type lookupFunc func(ctx context.Context, host string) ([]net.IP, error)

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// ssrfSafeTransport wraps a RoundTripper and checks every outgoing request,
// redirect hops included, against the address policy
type ssrfSafeTransport struct {
	base         http.RoundTripper
	lookup       lookupFunc
	allowPrivate bool // For dev/testing only
}

func (t *ssrfSafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.check(req.Context(), req.URL.String()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

func (t *ssrfSafeTransport) check(ctx context.Context, rawURL string) error {
	if t.allowPrivate {
		_, err := parseFetchableURL(rawURL)
		return err
	}

	u, err := ValidateURL(rawURL)
	if err != nil {
		return err
	}

	host := u.Hostname()
	if net.ParseIP(host) != nil {
		// literal public IP, already checked
		return nil
	}

	ips, err := t.lookup(ctx, host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("%w: failed to resolve host %s: %v", ErrBlockedURL, host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to private IP %s", ErrBlockedURL, host, ip)
		}
	}
	return nil
}
