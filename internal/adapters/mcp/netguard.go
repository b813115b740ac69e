package mcp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// URLGuard checks remote endpoints against a server's network access level.
type URLGuard struct {
	Access models.NetworkAccess
	// AllowedHosts, when non-empty, is the only set of hosts a restricted
	// server may reach.
	AllowedHosts []string
	// resolve is swapped in tests.
	resolve func(ctx context.Context, host string) ([]net.IP, error)
}

var internalHostnames = []string{
	"localhost",
	"localhost.localdomain",
	"local",
	"internal",
	"metadata",
	"metadata.google.internal",
	"instance-data",
	"169.254.169.254",
	"metadata.azure.com",
	"kubernetes",
	"kubernetes.default",
	"kubernetes.default.svc",
	"kubernetes.default.svc.cluster.local",
}

// isPrivateIP reports addresses that must not be reached from restricted servers.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	return false
}

// parseEndpoint validates rawURL's shape and scheme.
func parseEndpoint(rawURL string, schemes ...string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(schemes, scheme) {
		return nil, fmt.Errorf("unsupported URL scheme %q (allowed: %s)", parsed.Scheme, strings.Join(schemes, ", "))
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a hostname")
	}
	return parsed, nil
}

// Check enforces the access level for u. Full access allows everything;
// restricted access blocks internal and private destinations.
func (g URLGuard) Check(ctx context.Context, u *url.URL) error {
	switch g.Access {
	case models.NetworkNone:
		return fmt.Errorf("network access is disabled for this server")
	case models.NetworkRestricted:
	default:
		return nil
	}

	hostname := strings.ToLower(u.Hostname())
	if len(g.AllowedHosts) > 0 {
		if slices.ContainsFunc(g.AllowedHosts, func(h string) bool { return strings.EqualFold(h, hostname) }) {
			return nil
		}
		return fmt.Errorf("hostname %q is not in the allowed hosts list", hostname)
	}

	for _, internal := range internalHostnames {
		if hostname == internal || strings.HasSuffix(hostname, "."+internal) {
			return fmt.Errorf("hostname %q is not allowed: internal/metadata hostname", hostname)
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("address %s is private/internal", ip)
		}
		return nil
	}

	resolve := g.resolve
	if resolve == nil {
		resolve = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	ips, err := resolve(ctx, hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname %q: %w", hostname, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("hostname %q resolves to private/internal IP address %s", hostname, ip)
		}
	}
	return nil
}
