package rib

import (
	"cmp"
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrInvalidPrefix is returned for malformed prefixes, such as a mask
	// length out of range for the address family.
	ErrInvalidPrefix = errors.New("invalid prefix")
	// ErrFamilyNotManaged is returned when an updater has no route map for
	// the address family of a request.
	ErrFamilyNotManaged = errors.New("address family not managed")
)

// IPv4 is the IPv4 address family.
type IPv4 struct{}

func (IPv4) Bits() int { return 32 }
func (IPv4) Contains(addr netip.Addr) bool { return addr.Is4() }
func (IPv4) String() string { return "ipv4" }

// IPv6 is the IPv6 address family.
type IPv6 struct{}

func (IPv6) Bits() int { return 128 }
func (IPv6) Contains(addr netip.Addr) bool { return addr.Is6() && !addr.Is4In6() }
func (IPv6) String() string { return "ipv6" }

// AddressFamily is satisfied by IPv4 and IPv6. Route maps and the updater
// helpers are parameterized over it so both families share one code path.
type AddressFamily interface {
	IPv4 | IPv6
	Bits() int
	Contains(netip.Addr) bool
	String() string
}

// NewPrefix builds the canonical prefix for network/mask in family F. The
// network is masked, so 10.0.0.1/24 yields 10.0.0.0/24.
func NewPrefix[F AddressFamily](network netip.Addr, mask uint8) (netip.Prefix, error) {
	var family F
	network = network.Unmap().WithZone("")
	if !network.IsValid() {
		return netip.Prefix{}, fmt.Errorf("%w: missing network address", ErrInvalidPrefix)
	}
	if !family.Contains(network) {
		return netip.Prefix{}, fmt.Errorf("%w: %s is not an %s address", ErrInvalidPrefix, network, family)
	}
	if int(mask) > family.Bits() {
		return netip.Prefix{}, fmt.Errorf("%w: mask length %d out of range for %s", ErrInvalidPrefix, mask, family)
	}
	return netip.PrefixFrom(network, int(mask)).Masked(), nil
}

// comparePrefix orders IPv4 before IPv6, then by address, then by mask
// length.
func comparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return cmp.Compare(a.Bits(), b.Bits())
}
