// Package safefetch performs outbound HTTP requests hardened against SSRF:
// private/loopback/link-local targets are rejected both for literal IPs and
// for every DNS-resolved address, redirects are re-validated hop by hop,
// and response bodies are read under a byte limit.
package safefetch

import (
	"net/netip"
)

// AddressClass classifies an IP address for SSRF policy. One classifier is
// used for literal-IP input and DNS-resolved input alike, so the two code
// paths cannot diverge.
type AddressClass string

const (
	AddressPublic    AddressClass = "public"
	AddressPrivate   AddressClass = "private"
	AddressLinkLocal AddressClass = "link_local"
	AddressLoopback  AddressClass = "loopback"
	AddressCGNAT     AddressClass = "cgnat"
	AddressULA       AddressClass = "ula"
)

var cgnatRange = netip.MustParsePrefix("100.64.0.0/10")

// ClassifyAddress returns the SSRF policy class of an address.
// IPv4-mapped IPv6 addresses are classified by their embedded IPv4 address.
func ClassifyAddress(addr netip.Addr) AddressClass {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}

	switch {
	case addr.IsLoopback():
		return AddressLoopback
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return AddressLinkLocal
	case addr.Is4() && cgnatRange.Contains(addr):
		return AddressCGNAT
	case addr.Is6() && !addr.Is4In6() && isULA(addr):
		return AddressULA
	case addr.IsPrivate() || addr.IsUnspecified() || !addr.IsGlobalUnicast():
		return AddressPrivate
	default:
		return AddressPublic
	}
}

// IsPublicAddress reports whether the address may be dialed.
func IsPublicAddress(addr netip.Addr) bool {
	return ClassifyAddress(addr) == AddressPublic
}

// fc00::/7 unique local addresses.
func isULA(addr netip.Addr) bool {
	b := addr.As16()

	return b[0]&0xfe == 0xfc
}
