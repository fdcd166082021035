package rib

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkToRouteMapLongestMatch(t *testing.T) {
	m := NewNetworkToRouteMap[IPv4]()
	for _, p := range []string{"0.0.0.0/0", "10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "10.1.2.3/32"} {
		_, created := m.Insert(netip.MustParsePrefix(p))
		require.True(t, created)
	}
	require.Equal(t, 5, m.Len())

	tests := []struct {
		addr     string
		expected string
	}{
		{addr: "10.1.2.3", expected: "10.1.2.3/32"},
		{addr: "10.1.2.4", expected: "10.1.2.0/24"},
		{addr: "10.1.3.1", expected: "10.1.0.0/16"},
		{addr: "10.2.0.1", expected: "10.0.0.0/8"},
		{addr: "192.0.2.1", expected: "0.0.0.0/0"},
		{addr: "::ffff:10.1.2.3", expected: "10.1.2.3/32"},
	}
	for _, test := range tests {
		t.Run(test.addr, func(t *testing.T) {
			route := m.LongestMatch(netip.MustParseAddr(test.addr))
			require.NotNil(t, route)
			assert.Equal(t, netip.MustParsePrefix(test.expected), route.Prefix())
		})
	}

	require.True(t, m.Erase(netip.MustParsePrefix("0.0.0.0/0")))
	require.False(t, m.Erase(netip.MustParsePrefix("0.0.0.0/0")))
	require.Nil(t, m.LongestMatch(netip.MustParseAddr("192.0.2.1")))
	require.Nil(t, m.LongestMatch(netip.MustParseAddr("2001:db8::1")))
	require.Equal(t, 4, m.Len())
}

func TestNetworkToRouteMapInsertLookup(t *testing.T) {
	m := NewNetworkToRouteMap[IPv6]()
	first, created := m.Insert(netip.MustParsePrefix("2001:db8::/32"))
	require.True(t, created)
	second, created := m.Insert(netip.MustParsePrefix("2001:db8::1/32"))
	require.False(t, created)
	require.Same(t, first, second)

	require.Same(t, first, m.Lookup(netip.MustParsePrefix("2001:db8::/32")))
	require.Nil(t, m.Lookup(netip.MustParsePrefix("2001:db8::/48")))
	require.Nil(t, m.Lookup(netip.MustParsePrefix("10.0.0.0/8")))
	require.Equal(t, "ipv6", m.Family().String())
}

func TestNetworkToRouteMapOrder(t *testing.T) {
	m := NewNetworkToRouteMap[IPv4]()
	for _, p := range []string{"20.0.0.0/8", "10.1.0.0/16", "10.0.0.0/8", "0.0.0.0/0", "10.0.0.0/24"} {
		m.Insert(netip.MustParsePrefix(p))
	}
	expected := []netip.Prefix{
		netip.MustParsePrefix("0.0.0.0/0"),
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("10.0.0.0/24"),
		netip.MustParsePrefix("10.1.0.0/16"),
		netip.MustParsePrefix("20.0.0.0/8"),
	}
	require.Equal(t, expected, m.Prefixes())
	require.Equal(t, expected, m.Prefixes())
}

func TestNewPrefix(t *testing.T) {
	p, err := NewPrefix[IPv4](netip.MustParseAddr("10.1.2.3"), 16)
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), p)

	p, err = NewPrefix[IPv4](netip.MustParseAddr("::ffff:10.1.2.3"), 32)
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("10.1.2.3/32"), p)

	p, err = NewPrefix[IPv6](netip.MustParseAddr("fe80::1%eth0"), 64)
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("fe80::/64"), p)

	_, err = NewPrefix[IPv4](netip.MustParseAddr("10.0.0.0"), 33)
	require.ErrorIs(t, err, ErrInvalidPrefix)
	_, err = NewPrefix[IPv6](netip.MustParseAddr("10.0.0.0"), 8)
	require.ErrorIs(t, err, ErrInvalidPrefix)
	_, err = NewPrefix[IPv4](netip.MustParseAddr("2001:db8::"), 8)
	require.ErrorIs(t, err, ErrInvalidPrefix)
}
