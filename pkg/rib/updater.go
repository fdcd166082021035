package rib

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

// linkLocalPrefix is installed by AddLinkLocalRoutes.
var linkLocalPrefix = netip.MustParsePrefix("fe80::/64")

// RouteEntry is one client's contribution to a prefix, as returned by the
// mutating RouteUpdater operations.
type RouteEntry struct {
	Prefix netip.Prefix
	Client api.ClientID
	Entry  api.NextHopEntry
}

// ResolveStats summarizes one resolution pass.
type ResolveStats struct {
	Resolved   int
	Unresolved int
	// Cycles counts next-hops dropped because they looped back to a route
	// still being resolved.
	Cycles   int
	Duration time.Duration
}

// ResolveObserver receives the outcome of every resolution pass.
type ResolveObserver interface {
	ObservePass(stats ResolveStats)
	ObserveRoutes(family string, count int)
}

type options struct {
	log      logrus.FieldLogger
	observer ResolveObserver
}

// Option configures a RouteUpdater or a RIB.
type Option func(*options)

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithObserver registers an observer of resolution passes.
func WithObserver(observer ResolveObserver) Option {
	return func(o *options) { o.observer = observer }
}

func newOptions(opts []Option) options {
	o := options{log: logging.ForSubsys("rib")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RouteUpdater applies a batch of route mutations to a pair of borrowed
// route maps and resolves the result on UpdateDone.
//
// Expected behavior of the resolution pass:
//  1. No weighted ECMP. Each member of a resolved group is unique and has
//     equal weight.
//  2. A resolved group holds either DROP, TO_CPU, or a set of IP next-hops.
//  3. If DROP and anything else result from resolving a route, the route
//     resolves to DROP.
//  4. If TO_CPU and IP next-hops result from resolving a route, only the IP
//     next-hops are kept.
//  5. A route resolves to TO_CPU if and only if TO_CPU is its only result,
//     directly or through recursion.
//
// A RouteUpdater is single use and not safe for concurrent use; callers must
// serialize batches against the same maps.
type RouteUpdater struct {
	v4 *NetworkToRouteMap[IPv4]
	v6 *NetworkToRouteMap[IPv6]

	log      logrus.FieldLogger
	observer ResolveObserver
	stats    ResolveStats
}

// NewRouteUpdater returns an updater over the given maps. Either map may be
// nil, in which case requests for that family fail with ErrFamilyNotManaged.
func NewRouteUpdater(v4 *NetworkToRouteMap[IPv4], v6 *NetworkToRouteMap[IPv6], opts ...Option) *RouteUpdater {
	o := newOptions(opts)
	return &RouteUpdater{
		v4:       v4,
		v6:       v6,
		log:      o.log,
		observer: o.observer,
	}
}

// AddOrReplaceRoute sets the next-hops of client for network/mask. It returns
// the replaced contribution, or nil if the client had none.
func (u *RouteUpdater) AddOrReplaceRoute(network netip.Addr, mask uint8, client api.ClientID, entry api.NextHopEntry) (*RouteEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("route %s/%d: %w", network, mask, err)
	}
	network = network.Unmap()
	switch {
	case network.Is4():
		return addOrReplaceRouteImpl(u.v4, network, mask, client, entry)
	case network.Is6():
		return addOrReplaceRouteImpl(u.v6, network, mask, client, entry)
	}
	return nil, fmt.Errorf("%w: invalid network address %q", ErrInvalidPrefix, network)
}

// AddLinkLocalRoutes installs the IPv6 link-local route punting to the CPU.
// It always installs the same entry, so repeated calls are no-ops.
func (u *RouteUpdater) AddLinkLocalRoutes() {
	if u.v6 == nil {
		return
	}
	route, _ := u.v6.Insert(linkLocalPrefix)
	route.AddClientNextHops(api.ClientLinkLocal, api.NextHopEntry{api.ToCPUNextHop()})
}

// AddOrReplaceInterfaceRoute installs the directly connected route of an
// interface owning address on network/mask.
func (u *RouteUpdater) AddOrReplaceInterfaceRoute(network netip.Addr, mask uint8, address netip.Addr, intf api.InterfaceID) (*RouteEntry, error) {
	network, address = network.Unmap(), address.Unmap()
	if network.Is4() != address.Is4() {
		return nil, fmt.Errorf("%w: interface address %s does not match network %s", api.ErrInvalidNextHop, address, network)
	}
	if intf == api.NoInterface {
		return nil, fmt.Errorf("%w: interface route %s/%d without interface", api.ErrInvalidNextHop, network, mask)
	}
	entry := api.NextHopEntry{api.IPNextHop(address).WithInterface(intf)}
	return u.AddOrReplaceRoute(network, mask, api.ClientInterfaceRoute, entry)
}

// DelRoute removes the contribution of client for network/mask. It returns
// the removed contribution, or nil if there was none.
func (u *RouteUpdater) DelRoute(network netip.Addr, mask uint8, client api.ClientID) (*RouteEntry, error) {
	network = network.Unmap()
	switch {
	case network.Is4():
		return delRouteImpl(u.v4, network, mask, client)
	case network.Is6():
		return delRouteImpl(u.v6, network, mask, client)
	}
	return nil, fmt.Errorf("%w: invalid network address %q", ErrInvalidPrefix, network)
}

// RemoveAllRoutesForClient removes every contribution of client from both
// maps and returns what was removed, IPv4 first, in prefix order.
func (u *RouteUpdater) RemoveAllRoutesForClient(client api.ClientID) []RouteEntry {
	var deleted []RouteEntry
	removeAllRoutesForClientImpl(u.v4, client, &deleted)
	removeAllRoutesForClientImpl(u.v6, client, &deleted)
	return deleted
}

// UpdateDone resolves every route of both maps. Afterwards each route not
// caught in a routing loop carries a flattened forwarding result.
func (u *RouteUpdater) UpdateDone() ResolveStats {
	start := time.Now()
	u.stats = ResolveStats{}

	resetPass(u.v4)
	resetPass(u.v6)
	updateDoneImpl(u, u.v4)
	updateDoneImpl(u, u.v6)

	u.stats.Duration = time.Since(start)
	u.log.WithFields(logrus.Fields{
		"resolved":          u.stats.Resolved,
		"unresolved":        u.stats.Unresolved,
		"cycles":            u.stats.Cycles,
		logfields.Duration: u.stats.Duration,
	}).Debug("Resolution pass done")

	if u.observer != nil {
		u.observer.ObservePass(u.stats)
		if u.v4 != nil {
			u.observer.ObserveRoutes(IPv4{}.String(), u.v4.Len())
		}
		if u.v6 != nil {
			u.observer.ObserveRoutes(IPv6{}.String(), u.v6.Len())
		}
	}
	return u.stats
}

func familyNotManaged[F AddressFamily]() error {
	var f F
	return fmt.Errorf("%w: %s", ErrFamilyNotManaged, f)
}

func addOrReplaceRouteImpl[F AddressFamily](routes *NetworkToRouteMap[F], network netip.Addr, mask uint8, client api.ClientID, entry api.NextHopEntry) (*RouteEntry, error) {
	prefix, err := NewPrefix[F](network, mask)
	if err != nil {
		return nil, err
	}
	if routes == nil {
		return nil, familyNotManaged[F]()
	}
	route, _ := routes.Insert(prefix)
	prev, existed := route.AddClientNextHops(client, entry)
	if !existed {
		return nil, nil
	}
	return &RouteEntry{Prefix: prefix, Client: client, Entry: prev}, nil
}

func delRouteImpl[F AddressFamily](routes *NetworkToRouteMap[F], network netip.Addr, mask uint8, client api.ClientID) (*RouteEntry, error) {
	prefix, err := NewPrefix[F](network, mask)
	if err != nil {
		return nil, err
	}
	if routes == nil {
		return nil, familyNotManaged[F]()
	}
	route := routes.Lookup(prefix)
	if route == nil {
		return nil, nil
	}
	prev, existed := route.RemoveClientNextHops(client)
	if route.IsEmpty() {
		routes.Erase(prefix)
	}
	if !existed {
		return nil, nil
	}
	return &RouteEntry{Prefix: prefix, Client: client, Entry: prev}, nil
}

func removeAllRoutesForClientImpl[F AddressFamily](routes *NetworkToRouteMap[F], client api.ClientID, deleted *[]RouteEntry) {
	if routes == nil {
		return
	}
	var emptied []netip.Prefix
	for prefix, route := range routes.All() {
		prev, existed := route.RemoveClientNextHops(client)
		if !existed {
			continue
		}
		*deleted = append(*deleted, RouteEntry{Prefix: prefix, Client: client, Entry: prev})
		if route.IsEmpty() {
			emptied = append(emptied, prefix)
		}
	}
	for _, prefix := range emptied {
		routes.Erase(prefix)
	}
}

func resetPass[F AddressFamily](routes *NetworkToRouteMap[F]) {
	if routes == nil {
		return
	}
	for _, route := range routes.All() {
		route.state = passPending
	}
}

func updateDoneImpl[F AddressFamily](u *RouteUpdater, routes *NetworkToRouteMap[F]) {
	if routes == nil {
		return
	}
	for _, route := range routes.All() {
		if route.state == passPending {
			u.resolveOne(route)
		}
	}
}

// longestMatch looks addr up in the map of its own family.
func (u *RouteUpdater) longestMatch(addr netip.Addr) *Route {
	addr = addr.Unmap()
	switch {
	case addr.Is4() && u.v4 != nil:
		return u.v4.LongestMatch(addr)
	case addr.Is6() && u.v6 != nil:
		return u.v6.LongestMatch(addr)
	}
	return nil
}

func (u *RouteUpdater) resolveOne(route *Route) {
	route.state = passProcessing

	_, entry, ok := route.BestEntry()
	if !ok {
		u.setUnresolved(route)
		return
	}

	var (
		hasDrop  bool
		hasToCPU bool
		fwd      []api.NextHop
	)
	for _, nh := range entry {
		switch {
		case nh.NeedsResolve():
			fwd = u.fwdInfoFromNextHop(route, nh, &hasToCPU, &hasDrop, fwd)
		case nh.IsResolved():
			fwd = append(fwd, nh)
		case nh.Kind == api.KindDrop:
			hasDrop = true
		case nh.Kind == api.KindToCPU:
			hasToCPU = true
		}
	}

	switch {
	case hasDrop:
		u.setResolved(route, api.NewRouteNextHopSet(api.DropNextHop()))
	case len(fwd) > 0:
		u.setResolved(route, api.NewRouteNextHopSet(fwd...))
	case hasToCPU:
		u.setResolved(route, api.NewRouteNextHopSet(api.ToCPUNextHop()))
	default:
		u.setUnresolved(route)
	}
}

// fwdInfoFromNextHop resolves nh through the route covering it and appends
// the resulting forwarding members to fwd.
func (u *RouteUpdater) fwdInfoFromNextHop(route *Route, nh api.NextHop, hasToCPU, hasDrop *bool, fwd []api.NextHop) []api.NextHop {
	scopedLog := u.log.WithFields(logrus.Fields{
		logfields.Prefix:  route.Prefix(),
		logfields.NextHop: nh,
	})

	covering := u.longestMatch(nh.Addr)
	if covering == nil {
		scopedLog.Debug("No route to next-hop")
		return fwd
	}
	switch covering.state {
	case passProcessing:
		u.stats.Cycles++
		scopedLog.WithField("via", covering.Prefix()).Debug("Routing loop, ignoring next-hop")
		return fwd
	case passPending:
		u.resolveOne(covering)
	}

	info := covering.ForwardInfo()
	switch info.Action() {
	case api.ForwardDrop:
		*hasDrop = true
	case api.ForwardToCPU:
		*hasToCPU = true
	case api.ForwardNextHops:
		connected := covering.IsConnected()
		for _, member := range info.NextHops {
			if connected {
				fwd = append(fwd, api.IPNextHop(nh.Addr).WithInterface(member.Interface).WithLabels(nh.Labels))
				continue
			}
			labels, err := api.CombineLabels(nh.Labels, member.Labels)
			if err != nil {
				scopedLog.WithError(err).WithField("via", member).Warn("Skipping next-hop with incompatible label actions")
				continue
			}
			fwd = append(fwd, member.WithLabels(labels))
		}
	}
	return fwd
}

func (u *RouteUpdater) setResolved(route *Route, set api.RouteNextHopSet) {
	route.SetResolved(set)
	u.stats.Resolved++
}

func (u *RouteUpdater) setUnresolved(route *Route) {
	route.SetUnresolved()
	u.stats.Unresolved++
}
