package remote

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/pilotdeck/pilotdeck/pkg/log"
)

const (
	defaultHTTPPort  = "9000"
	defaultHTTPSPort = "9443"
)

// InstanceIPCache looks up a previously discovered IP address for an
// instance URL. The cache is maintained elsewhere (the dashboard records the
// instance's resolved address while it is reachable); this package only reads it.
type InstanceIPCache interface {
	LookupIP(instanceURL string) (string, bool)
}

// StaticIPCache is an InstanceIPCache backed by a fixed map, keyed by
// canonical instance URL. Useful for configuration-pinned addresses and tests.
type StaticIPCache map[string]string

// LookupIP implements InstanceIPCache
func (c StaticIPCache) LookupIP(instanceURL string) (string, bool) {
	ip, ok := c[CanonicalURL(instanceURL)]
	return ip, ok
}

// FailoverResolver resolves an alternate IP-addressed URL for an instance,
// for when the hostname path is fronted by the very container being upgraded.
type FailoverResolver struct {
	cache InstanceIPCache
}

// NewFailoverResolver creates a resolver reading from the given IP cache
func NewFailoverResolver(cache InstanceIPCache) *FailoverResolver {
	return &FailoverResolver{cache: cache}
}

// Resolve returns an IP-based URL for the instance, reusing the original
// port (or the scheme default when none is set). When no IP is cached the
// original URL is returned unchanged and a warning is logged, since
// DNS-dependent calls may fail while the proxy is down.
func (r *FailoverResolver) Resolve(instanceURL string) (string, error) {
	u, err := url.Parse(instanceURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid instance URL %q: %w", instanceURL, err)
	}

	if r.cache == nil {
		log.Warnf("No IP cache configured for %s; calls depending on DNS may fail", instanceURL)
		return instanceURL, nil
	}

	ip, ok := r.cache.LookupIP(instanceURL)
	if !ok {
		log.Warnf("No cached IP for %s; calls depending on DNS may fail", instanceURL)
		return instanceURL, nil
	}

	// Private addresses are acceptable here: the IP comes from the pinned,
	// user-configured instance, not from request input.
	if err := validateFailoverIP(ip); err != nil {
		return "", err
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = defaultHTTPSPort
		} else {
			port = defaultHTTPPort
		}
	}

	return u.Scheme + "://" + net.JoinHostPort(ip, port), nil
}

func validateFailoverIP(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("cached instance address %q is not an IP literal: %w", ip, err)
	}
	if addr.IsUnspecified() || addr.IsMulticast() {
		return fmt.Errorf("cached instance address %q is not routable", ip)
	}
	return nil
}

// ValidatePathSegments rejects request path segments that are empty or could
// traverse outside the intended API path. Percent-escapes are decoded before
// checking so encoded traversal does not slip through.
func ValidatePathSegments(segments ...string) error {
	for _, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return fmt.Errorf("invalid path segment %q: %w", seg, err)
		}
		if decoded == "" || decoded == "." || decoded == ".." {
			return fmt.Errorf("invalid path segment %q", seg)
		}
		if strings.ContainsAny(decoded, "/\\") {
			return fmt.Errorf("path segment %q contains a separator", seg)
		}
	}
	return nil
}
