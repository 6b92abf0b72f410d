// Package websafe guards outbound statute fetches: scheme checks, SSRF
// prevention, and bounded response reads.
package websafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxFetchBody is the default cap for fetched page bodies (4 MiB). Statute
// pages, consolidated GDPR included, stay well under this.
const MaxFetchBody int64 = 4 << 20

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("websafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("websafe: only http and https schemes are allowed")

// ErrBodyTooLarge is returned when a response body exceeds its read bound.
var ErrBodyTooLarge = errors.New("websafe: response body too large")

// Validator checks fetch targets. The zero value enforces the full policy;
// AllowPrivate admits loopback and RFC 1918 hosts for local mirrors.
type Validator struct {
	AllowPrivate bool
}

// Validate checks that rawURL uses http/https, names a host, and does not
// point at a private or loopback address. Hostnames are resolved so internal
// names cannot smuggle a private target past a literal-IP check; a DNS
// failure passes, the fetch will fail at connect time anyway.
func (v Validator) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("websafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("websafe: URL has no host")
	}
	if v.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ReadBounded reads at most maxBytes from r, ErrBodyTooLarge beyond that.
func ReadBounded(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}

var privateCIDRs = func() []*net.IPNet {
	blocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
		"::1/128",
	}
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, b := range blocks {
		if _, cidr, err := net.ParseCIDR(b); err == nil {
			nets = append(nets, cidr)
		}
	}
	return nets
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, cidr := range privateCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
