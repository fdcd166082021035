package rib

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"

	"github.com/openconfig/aft-resolver/pkg/api"
)

// passState tracks a route through one resolution pass.
type passState uint8

const (
	passPending passState = iota
	passProcessing
	passDone
)

// Route is a single routing table entry: the next-hop entries every client
// submitted for the prefix and the forwarding result of the last resolution
// pass.
type Route struct {
	prefix  netip.Prefix
	entries map[api.ClientID]api.NextHopEntry
	fwd     api.ForwardInfo
	state   passState
}

func newRoute(prefix netip.Prefix) *Route {
	return &Route{
		prefix:  prefix,
		entries: make(map[api.ClientID]api.NextHopEntry),
	}
}

// Prefix returns the prefix the route is keyed by.
func (r *Route) Prefix() netip.Prefix {
	return r.prefix
}

// AddClientNextHops replaces the contribution of client and returns the
// previous one, if any.
func (r *Route) AddClientNextHops(client api.ClientID, entry api.NextHopEntry) (api.NextHopEntry, bool) {
	prev, existed := r.entries[client]
	r.entries[client] = slices.Clone(entry)
	return prev, existed
}

// RemoveClientNextHops removes the contribution of client and returns it,
// if it existed.
func (r *Route) RemoveClientNextHops(client api.ClientID) (api.NextHopEntry, bool) {
	prev, existed := r.entries[client]
	if existed {
		delete(r.entries, client)
	}
	return prev, existed
}

// IsEmpty reports whether no client contributes to the route anymore. The
// owning map removes empty routes.
func (r *Route) IsEmpty() bool {
	return len(r.entries) == 0
}

// BestEntry returns the contribution of the lowest numbered client holding a
// non-empty entry.
func (r *Route) BestEntry() (api.ClientID, api.NextHopEntry, bool) {
	var (
		best  api.ClientID
		entry api.NextHopEntry
		found bool
	)
	for client, e := range r.entries {
		if len(e) == 0 {
			continue
		}
		if !found || client < best {
			best, entry, found = client, e, true
		}
	}
	return best, entry, found
}

// Clients returns the contributing clients in priority order.
func (r *Route) Clients() []api.ClientID {
	return slices.Sorted(maps.Keys(r.entries))
}

// IsConnected reports whether the active contribution is a directly
// connected interface route.
func (r *Route) IsConnected() bool {
	client, _, ok := r.BestEntry()
	return ok && client == api.ClientInterfaceRoute
}

// SetResolved stores the flattened forwarding set and ends processing of the
// route for the current pass.
func (r *Route) SetResolved(set api.RouteNextHopSet) {
	r.fwd = api.ForwardInfo{Resolved: true, NextHops: set}
	r.state = passDone
}

// SetUnresolved clears the forwarding result and ends processing of the
// route for the current pass.
func (r *Route) SetUnresolved() {
	r.fwd = api.ForwardInfo{}
	r.state = passDone
}

// ForwardInfo returns the result of the last resolution pass. It is stale
// while mutations are pending.
func (r *Route) ForwardInfo() api.ForwardInfo {
	return r.fwd
}

// IsResolved reports whether the last pass produced a forwarding result.
func (r *Route) IsResolved() bool {
	return r.fwd.Resolved
}

func (r *Route) String() string {
	return fmt.Sprintf("%s clients=%v fwd=%s", r.prefix, r.Clients(), r.fwd)
}
