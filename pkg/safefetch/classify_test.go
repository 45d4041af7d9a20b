package safefetch_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/missiond/missiond/pkg/safefetch"
)

func TestClassifyAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want safefetch.AddressClass
	}{
		{"8.8.8.8", safefetch.AddressPublic},
		{"1.1.1.1", safefetch.AddressPublic},
		{"93.184.216.34", safefetch.AddressPublic},
		{"127.0.0.1", safefetch.AddressLoopback},
		{"127.255.255.254", safefetch.AddressLoopback},
		{"::1", safefetch.AddressLoopback},
		{"10.0.0.1", safefetch.AddressPrivate},
		{"172.16.0.1", safefetch.AddressPrivate},
		{"172.31.255.255", safefetch.AddressPrivate},
		{"192.168.1.1", safefetch.AddressPrivate},
		{"0.0.0.0", safefetch.AddressPrivate},
		{"169.254.169.254", safefetch.AddressLinkLocal},
		{"fe80::1", safefetch.AddressLinkLocal},
		{"100.64.0.1", safefetch.AddressCGNAT},
		{"100.127.255.255", safefetch.AddressCGNAT},
		{"100.63.255.255", safefetch.AddressPublic},
		{"100.128.0.0", safefetch.AddressPublic},
		{"fc00::1", safefetch.AddressULA},
		{"fd12:3456:789a::1", safefetch.AddressULA},
		{"2001:4860:4860::8888", safefetch.AddressPublic},
		// IPv4-mapped IPv6 must classify as its embedded IPv4 address.
		{"::ffff:127.0.0.1", safefetch.AddressLoopback},
		{"::ffff:10.0.0.1", safefetch.AddressPrivate},
		{"::ffff:8.8.8.8", safefetch.AddressPublic},
	}

	for _, tt := range tests {
		addr := netip.MustParseAddr(tt.addr)
		assert.Equal(t, tt.want, safefetch.ClassifyAddress(addr), "address %s", tt.addr)
	}
}

func TestIsPublicAddress(t *testing.T) {
	t.Parallel()

	assert.True(t, safefetch.IsPublicAddress(netip.MustParseAddr("8.8.8.8")))
	assert.False(t, safefetch.IsPublicAddress(netip.MustParseAddr("192.168.0.10")))
	assert.False(t, safefetch.IsPublicAddress(netip.MustParseAddr("::1")))
}
