package safefetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrUnsafeTarget is wrapped by every guard rejection.
var ErrUnsafeTarget = errors.New("unsafe fetch target")

// Hostnames that never resolve to a dialable public address.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata":                 true,
	"metadata.google.internal": true,
	"169.254.169.254":          true,
}

var blockedSuffixes = []string{".local", ".internal", ".localdomain"}

// LookupFunc resolves a hostname to its addresses. Injectable for tests.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host %q: %w", host, err)
	}

	return addrs, nil
}

// Guard validates outbound URL targets against SSRF policy.
type Guard struct {
	lookup LookupFunc
}

// NewGuard creates a guard using the system resolver.
func NewGuard() *Guard {
	return &Guard{lookup: defaultLookup}
}

// NewGuardWithLookup creates a guard with a custom resolver, used by tests.
func NewGuardWithLookup(lookup LookupFunc) *Guard {
	return &Guard{lookup: lookup}
}

// AssertSafeTarget rejects URLs whose target is not a public address.
// Hostnames are resolved and every returned record must be public: a name
// that answers with even one private address is rejected, which defeats
// DNS-rebinding setups that pass validation and then resolve privately.
func (g *Guard) AssertSafeTarget(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrUnsafeTarget, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeTarget, parsed.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeTarget)
	}

	if blockedHostnames[host] {
		return fmt.Errorf("%w: host %q is blocked", ErrUnsafeTarget, host)
	}

	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host suffix %q is blocked", ErrUnsafeTarget, suffix)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if class := ClassifyAddress(addr); class != AddressPublic {
			return fmt.Errorf("%w: address %s is %s", ErrUnsafeTarget, addr, class)
		}

		return nil
	}

	addrs, err := g.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsafeTarget, err)
	}

	if len(addrs) == 0 {
		return fmt.Errorf("%w: host %q resolved to no addresses", ErrUnsafeTarget, host)
	}

	for _, addr := range addrs {
		if class := ClassifyAddress(addr); class != AddressPublic {
			return fmt.Errorf("%w: host %q resolves to %s address %s", ErrUnsafeTarget, host, class, addr)
		}
	}

	return nil
}
