package rib

import (
	"iter"
	"net/netip"

	"github.com/gaissmai/bart"
)

// NetworkToRouteMap holds the routes of one address family, keyed by
// prefix. It supports exact and longest prefix match lookups and iterates in
// prefix order.
//
// A NetworkToRouteMap is not safe for concurrent use.
type NetworkToRouteMap[F AddressFamily] struct {
	table bart.Table[*Route]
	size  int
}

// NewNetworkToRouteMap returns an empty route map.
func NewNetworkToRouteMap[F AddressFamily]() *NetworkToRouteMap[F] {
	return &NetworkToRouteMap[F]{}
}

// Family returns the address family of the map.
func (m *NetworkToRouteMap[F]) Family() F {
	var f F
	return f
}

func (m *NetworkToRouteMap[F]) owns(prefix netip.Prefix) bool {
	return prefix.IsValid() && m.Family().Contains(prefix.Addr())
}

// Lookup returns the route for exactly prefix, or nil.
func (m *NetworkToRouteMap[F]) Lookup(prefix netip.Prefix) *Route {
	if !m.owns(prefix) {
		return nil
	}
	route, ok := m.table.Get(prefix.Masked())
	if !ok {
		return nil
	}
	return route
}

// LongestMatch returns the route of the most specific prefix covering addr,
// or nil if no prefix covers it.
func (m *NetworkToRouteMap[F]) LongestMatch(addr netip.Addr) *Route {
	addr = addr.Unmap().WithZone("")
	if !m.Family().Contains(addr) {
		return nil
	}
	route, ok := m.table.Lookup(addr)
	if !ok {
		return nil
	}
	return route
}

// Insert returns the route for prefix, creating an empty one if absent.
func (m *NetworkToRouteMap[F]) Insert(prefix netip.Prefix) (*Route, bool) {
	prefix = prefix.Masked()
	if route := m.Lookup(prefix); route != nil {
		return route, false
	}
	route := newRoute(prefix)
	m.table.Insert(prefix, route)
	m.size++
	return route, true
}

// Erase removes the route for prefix and reports whether it existed.
func (m *NetworkToRouteMap[F]) Erase(prefix netip.Prefix) bool {
	if m.Lookup(prefix) == nil {
		return false
	}
	m.table.Delete(prefix.Masked())
	m.size--
	return true
}

// Len returns the number of routes in the map.
func (m *NetworkToRouteMap[F]) Len() int {
	return m.size
}

// All iterates over the routes in prefix order. The map must not be
// modified during iteration.
func (m *NetworkToRouteMap[F]) All() iter.Seq2[netip.Prefix, *Route] {
	if m.Family().Bits() == 32 {
		return m.table.AllSorted4()
	}
	return m.table.AllSorted6()
}

// Prefixes returns all prefixes in iteration order.
func (m *NetworkToRouteMap[F]) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, m.size)
	for prefix := range m.All() {
		out = append(out, prefix)
	}
	return out
}
