package rib

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

// maxBatch bounds how many queued updates Start folds into one resolution
// pass.
const maxBatch = 1024

// RouteSnapshot is a read-only view of one route.
type RouteSnapshot struct {
	Prefix     netip.Prefix
	Clients    []api.ClientID
	BestClient api.ClientID
	Connected  bool
	Forward    api.ForwardInfo
}

// RIB maintains the routing tables of both address families, resolves them
// after every batch of updates and publishes the forwarding results that
// changed to the FIB.
type RIB struct {
	mu        sync.RWMutex
	v4        *NetworkToRouteMap[IPv4]
	v6        *NetworkToRouteMap[IPv6]
	published map[netip.Prefix]api.ForwardInfo
	fibChan   chan<- api.FIBUpdate
	opts      []Option
	log       logrus.FieldLogger
}

// New creates a new RIB. fibChan may be nil when nobody consumes the
// forwarding results.
func New(fibChan chan<- api.FIBUpdate, opts ...Option) *RIB {
	return &RIB{
		v4:        NewNetworkToRouteMap[IPv4](),
		v6:        NewNetworkToRouteMap[IPv6](),
		published: make(map[netip.Prefix]api.ForwardInfo),
		fibChan:   fibChan,
		opts:      opts,
		log:       newOptions(opts).log,
	}
}

// Start listens for updates on the input channel and processes them. Updates
// already queued when one arrives are applied in the same batch.
func (r *RIB) Start(ctx context.Context, inputChan <-chan api.RIBUpdate) error {
	if r.fibChan != nil {
		defer close(r.fibChan)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-inputChan:
			if !ok {
				return nil
			}
			batch := drain(inputChan, []api.RIBUpdate{update})
			if _, err := r.Apply(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.WithError(err).Warn("Some route updates were rejected")
			}
		}
	}
}

func drain(inputChan <-chan api.RIBUpdate, batch []api.RIBUpdate) []api.RIBUpdate {
	for len(batch) < maxBatch {
		select {
		case update, ok := <-inputChan:
			if !ok {
				return batch
			}
			batch = append(batch, update)
		default:
			return batch
		}
	}
	return batch
}

// AddRoute adds or replaces a single route and resolves the table.
func (r *RIB) AddRoute(update api.RIBUpdate) error {
	if update.Action == "" {
		update.Action = api.Add
	}
	_, err := r.Apply(context.Background(), []api.RIBUpdate{update})
	return err
}

// DeleteRoute removes a single route and resolves the table.
func (r *RIB) DeleteRoute(update api.RIBUpdate) error {
	update.Action = api.Delete
	_, err := r.Apply(context.Background(), []api.RIBUpdate{update})
	return err
}

// Apply runs one batch of updates through a RouteUpdater, resolves the
// tables and publishes every changed forwarding result. Invalid updates are
// skipped and reported together in the returned error; the rest of the batch
// still applies.
func (r *RIB) Apply(ctx context.Context, batch []api.RIBUpdate) (ResolveStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updater := NewRouteUpdater(r.v4, r.v6, r.opts...)
	updater.AddLinkLocalRoutes()

	var errs error
	for _, update := range batch {
		if err := r.applyOne(updater, update); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	stats := updater.UpdateDone()

	for _, update := range r.diffLocked() {
		if r.fibChan == nil {
			continue
		}
		select {
		case r.fibChan <- update:
		case <-ctx.Done():
			return stats, multierr.Append(errs, ctx.Err())
		}
	}
	return stats, errs
}

func (r *RIB) applyOne(updater *RouteUpdater, update api.RIBUpdate) error {
	scopedLog := r.log.WithFields(logrus.Fields{
		logfields.Action: update.Action,
		logfields.Client: update.Client,
		logfields.Prefix: update.Prefix,
	})
	network, mask := update.Prefix.Addr(), uint8(update.Prefix.Bits())
	if update.Action != api.DeleteClient && !update.Prefix.IsValid() {
		return fmt.Errorf("%s: %w: %q", update.Action, ErrInvalidPrefix, update.Prefix)
	}

	var err error
	switch update.Action {
	case api.Add:
		_, err = updater.AddOrReplaceRoute(network, mask, update.Client, update.NextHops)
	case api.AddInterface:
		_, err = updater.AddOrReplaceInterfaceRoute(network, mask, update.LocalAddr, update.Interface)
	case api.Delete:
		var removed *RouteEntry
		removed, err = updater.DelRoute(network, mask, update.Client)
		if err == nil && removed == nil {
			scopedLog.Debug("Route to delete does not exist")
		}
	case api.DeleteClient:
		removed := updater.RemoveAllRoutesForClient(update.Client)
		scopedLog.WithField(logfields.Count, len(removed)).Debug("Removed all routes of client")
	default:
		err = fmt.Errorf("unknown action %q", update.Action)
	}
	if err != nil {
		return fmt.Errorf("%s %s client %s: %w", update.Action, update.Prefix, update.Client, err)
	}
	scopedLog.WithField(logfields.NextHop, update.NextHops).Debug("Applied route update")
	return nil
}

// diffLocked compares every route against the last published result and
// returns the FIB updates needed to catch up, in prefix order.
func (r *RIB) diffLocked() []api.FIBUpdate {
	var updates []api.FIBUpdate
	present := make(map[netip.Prefix]struct{}, r.v4.Len()+r.v6.Len())

	visit := func(prefix netip.Prefix, route *Route) {
		present[prefix] = struct{}{}
		fwd := route.ForwardInfo()
		prev, published := r.published[prefix]
		switch {
		case fwd.Resolved && (!published || !prev.Equal(fwd)):
			r.published[prefix] = fwd
			updates = append(updates, api.FIBUpdate{Action: api.Add, Prefix: prefix, Forward: fwd})
			r.log.WithFields(logrus.Fields{
				logfields.Prefix:  prefix,
				logfields.Forward: fwd,
			}).Debug("Forwarding result changed")
		case !fwd.Resolved && published:
			delete(r.published, prefix)
			updates = append(updates, api.FIBUpdate{Action: api.Delete, Prefix: prefix})
		}
	}
	for prefix, route := range r.v4.All() {
		visit(prefix, route)
	}
	for prefix, route := range r.v6.All() {
		visit(prefix, route)
	}

	var gone []netip.Prefix
	for prefix := range r.published {
		if _, ok := present[prefix]; !ok {
			gone = append(gone, prefix)
		}
	}
	slices.SortFunc(gone, comparePrefix)
	for _, prefix := range gone {
		delete(r.published, prefix)
		updates = append(updates, api.FIBUpdate{Action: api.Delete, Prefix: prefix})
	}
	return updates
}

// ForwardInfo returns the forwarding result of exactly prefix.
func (r *RIB) ForwardInfo(prefix netip.Prefix) (api.ForwardInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route := r.lookupLocked(prefix)
	if route == nil {
		return api.ForwardInfo{}, false
	}
	return route.ForwardInfo(), true
}

// LongestMatch returns the prefix and forwarding result of the most specific
// route covering addr.
func (r *RIB) LongestMatch(addr netip.Addr) (netip.Prefix, api.ForwardInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var route *Route
	if addr = addr.Unmap(); addr.Is4() {
		route = r.v4.LongestMatch(addr)
	} else {
		route = r.v6.LongestMatch(addr)
	}
	if route == nil {
		return netip.Prefix{}, api.ForwardInfo{}, false
	}
	return route.Prefix(), route.ForwardInfo(), true
}

func (r *RIB) lookupLocked(prefix netip.Prefix) *Route {
	if prefix.Addr().Is4() {
		return r.v4.Lookup(prefix)
	}
	return r.v6.Lookup(prefix)
}

// Routes returns a snapshot of every route, IPv4 first, in prefix order.
func (r *RIB) Routes() []RouteSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RouteSnapshot, 0, r.v4.Len()+r.v6.Len())
	snap := func(prefix netip.Prefix, route *Route) {
		best, _, _ := route.BestEntry()
		out = append(out, RouteSnapshot{
			Prefix:     prefix,
			Clients:    route.Clients(),
			BestClient: best,
			Connected:  route.IsConnected(),
			Forward:    route.ForwardInfo(),
		})
	}
	for prefix, route := range r.v4.All() {
		snap(prefix, route)
	}
	for prefix, route := range r.v6.All() {
		snap(prefix, route)
	}
	return out
}
