package safefetch_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missiond/missiond/pkg/safefetch"
)

func staticLookup(addrs ...string) safefetch.LookupFunc {
	return func(_ context.Context, _ string) ([]netip.Addr, error) {
		resolved := make([]netip.Addr, 0, len(addrs))
		for _, addr := range addrs {
			resolved = append(resolved, netip.MustParseAddr(addr))
		}

		return resolved, nil
	}
}

func TestGuard_RejectsBlockedHostnames(t *testing.T) {
	t.Parallel()

	guard := safefetch.NewGuardWithLookup(staticLookup("93.184.216.34"))

	blocked := []string{
		"http://localhost/admin",
		"http://localhost:8080/",
		"http://metadata/computeMetadata/v1/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://service.internal/",
		"http://printer.local/",
		"http://box.localdomain/",
	}

	for _, rawURL := range blocked {
		err := guard.AssertSafeTarget(context.Background(), rawURL)
		require.Error(t, err, "url %s", rawURL)
		assert.ErrorIs(t, err, safefetch.ErrUnsafeTarget, "url %s", rawURL)
	}
}

func TestGuard_RejectsNonHTTPSchemes(t *testing.T) {
	t.Parallel()

	guard := safefetch.NewGuardWithLookup(staticLookup("93.184.216.34"))

	for _, rawURL := range []string{
		"file:///etc/passwd",
		"ftp://example.com/file",
		"gopher://example.com/",
	} {
		err := guard.AssertSafeTarget(context.Background(), rawURL)
		assert.ErrorIs(t, err, safefetch.ErrUnsafeTarget, "url %s", rawURL)
	}
}

func TestGuard_RejectsLiteralPrivateAddresses(t *testing.T) {
	t.Parallel()

	guard := safefetch.NewGuardWithLookup(staticLookup("93.184.216.34"))

	for _, rawURL := range []string{
		"http://10.0.0.5/",
		"http://192.168.1.1/router",
		"http://127.0.0.1:9000/",
		"http://[::1]/",
		"http://100.64.12.1/",
		"http://[fd00::1]/",
	} {
		err := guard.AssertSafeTarget(context.Background(), rawURL)
		assert.ErrorIs(t, err, safefetch.ErrUnsafeTarget, "url %s", rawURL)
	}
}

func TestGuard_AllowsPublicLiteralAndHost(t *testing.T) {
	t.Parallel()

	guard := safefetch.NewGuardWithLookup(staticLookup("93.184.216.34"))

	assert.NoError(t, guard.AssertSafeTarget(context.Background(), "https://93.184.216.34/page"))
	assert.NoError(t, guard.AssertSafeTarget(context.Background(), "https://example.com/page"))
}

func TestGuard_RejectsWhenAnyResolvedAddressIsPrivate(t *testing.T) {
	t.Parallel()

	// A rebinding name answers with one public and one private record;
	// the private one must poison the whole set.
	guard := safefetch.NewGuardWithLookup(staticLookup("93.184.216.34", "10.0.0.5"))

	err := guard.AssertSafeTarget(context.Background(), "https://rebind.example.com/")
	require.Error(t, err)
	assert.ErrorIs(t, err, safefetch.ErrUnsafeTarget)
	assert.Contains(t, err.Error(), "10.0.0.5")
}

func TestGuard_RejectsEmptyResolution(t *testing.T) {
	t.Parallel()

	guard := safefetch.NewGuardWithLookup(staticLookup())

	err := guard.AssertSafeTarget(context.Background(), "https://ghost.example.com/")
	assert.ErrorIs(t, err, safefetch.ErrUnsafeTarget)
}

func TestGuard_TrailingDotAndCaseNormalized(t *testing.T) {
	t.Parallel()

	guard := safefetch.NewGuardWithLookup(staticLookup("93.184.216.34"))

	assert.ErrorIs(t,
		guard.AssertSafeTarget(context.Background(), "http://LOCALHOST./x"),
		safefetch.ErrUnsafeTarget,
	)
}
