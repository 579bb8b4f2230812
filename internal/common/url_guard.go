package common

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// MaxURLLength is the longest submission URL accepted
const MaxURLLength = 2048

// ValidateTargetURL checks a submitted URL and returns its normalized
// form. Only absolute http/https URLs with a host are accepted.
// Loopback, private and link-local targets are rejected unless
// allowPrivate is set (development mode).
func ValidateTargetURL(raw string, allowPrivate bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("url is required")
	}
	if len(trimmed) > MaxURLLength {
		return "", fmt.Errorf("url exceeds maximum length of %d characters", MaxURLLength)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: only http and https are allowed", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("url has no host")
	}
	if parsed.User != nil {
		return "", fmt.Errorf("urls with embedded credentials are not allowed")
	}

	if !allowPrivate {
		if err := checkPublicHost(parsed.Hostname()); err != nil {
			return "", err
		}
	}

	return parsed.String(), nil
}

// checkPublicHost rejects hostnames that resolve trivially to
// non-public address space. Only literal IPs and well-known local
// names are checked here; DNS resolution is left to the fetcher.
func checkPublicHost(host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local") {
		return fmt.Errorf("local hostname %q is not allowed", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("address %q is not publicly routable", host)
	}
	return nil
}
