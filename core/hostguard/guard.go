package hostguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// Resolver is the subset of net.Resolver the guard needs.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard validates that a hostname points at publicly routable address
// space. Safe for concurrent use.
type Guard struct {
	resolver Resolver
}

// Option configures a Guard.
type Option func(*Guard)

// WithResolver overrides the DNS resolver, primarily for tests.
func WithResolver(r Resolver) Option {
	return func(g *Guard) {
		if r != nil {
			g.resolver = r
		}
	}
}

// New creates a Guard using the system resolver by default.
func New(opts ...Option) *Guard {
	g := &Guard{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Normalize lowercases and IDNA-encodes a hostname, returning
// ErrInvalidHostname for names that fail lookup-profile validation or are
// literal IP addresses.
func Normalize(hostname string) (string, error) {
	hostname = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(hostname)), ".")
	if hostname == "" {
		return "", ErrInvalidHostname
	}
	if _, err := netip.ParseAddr(hostname); err == nil {
		return "", fmt.Errorf("%w: literal IP address", ErrInvalidHostname)
	}

	ascii, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidHostname, err)
	}
	if !strings.Contains(ascii, ".") {
		return "", fmt.Errorf("%w: missing registered domain", ErrInvalidHostname)
	}
	return ascii, nil
}

// AssertExternal resolves the hostname and returns ErrDisallowedHost if
// any answer falls in an internal range. It must run before any outbound
// request tied to a tenant-supplied hostname.
func (g *Guard) AssertExternal(ctx context.Context, hostname string) error {
	ascii, err := Normalize(hostname)
	if err != nil {
		return err
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", ascii)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHostResolution, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: no addresses for %s", ErrHostResolution, ascii)
	}

	for _, addr := range addrs {
		if disallowed(addr) {
			return fmt.Errorf("%w: %s -> %s", ErrDisallowedHost, ascii, addr)
		}
	}
	return nil
}

func disallowed(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}
