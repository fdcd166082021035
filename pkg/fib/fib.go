package fib

import (
	"cmp"
	"context"
	"maps"
	"net/netip"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

type nextHopEntry struct {
	index uint64
	nh    api.NextHop
	refs  int
}

type groupEntry struct {
	id         uint64
	members    []uint64
	memberKeys []string
	refs       int
}

type prefixEntry struct {
	group    string
	groupID  uint64
	nextHops api.RouteNextHopSet
}

// FIB maintains the active forwarding state as AFT next-hops, next-hop
// groups and prefix entries. Next-hops and groups are shared between
// prefixes and reference counted.
type FIB struct {
	mu       sync.RWMutex
	prefixes map[netip.Prefix]*prefixEntry
	groups   map[string]*groupEntry
	nextHops map[string]*nextHopEntry

	lastNextHop uint64
	lastGroup   uint64

	telemetryChan chan<- api.AFTUpdate
	log           logrus.FieldLogger
}

// New creates a new FIB. telemetryChan may be nil.
func New(telemetryChan chan<- api.AFTUpdate) *FIB {
	return &FIB{
		prefixes:      make(map[netip.Prefix]*prefixEntry),
		groups:        make(map[string]*groupEntry),
		nextHops:      make(map[string]*nextHopEntry),
		telemetryChan: telemetryChan,
		log:           logging.ForSubsys("fib"),
	}
}

// Start listens for updates on the input channel and processes them. It
// closes the telemetry channel on return.
func (f *FIB) Start(ctx context.Context, inputChan <-chan api.FIBUpdate) error {
	if f.telemetryChan != nil {
		defer close(f.telemetryChan)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-inputChan:
			if !ok {
				return nil
			}
			f.UpdateContext(ctx, update)
		}
	}
}

// Update updates the FIB state and notifies the telemetry server.
func (f *FIB) Update(update api.FIBUpdate) {
	f.UpdateContext(context.Background(), update)
}

// UpdateContext is Update with telemetry emission bounded by ctx. Once ctx is
// done the state is still updated but pending AFT updates are dropped.
func (f *FIB) UpdateContext(ctx context.Context, update api.FIBUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	scopedLog := f.log.WithField(logfields.Prefix, update.Prefix)
	old, exists := f.prefixes[update.Prefix]

	switch update.Action {
	case api.Add:
		if !update.Forward.Resolved || len(update.Forward.NextHops) == 0 {
			scopedLog.Warn("Ignoring unresolved forwarding entry")
			return
		}
		key := update.Forward.NextHops.Key()
		if exists && old.group == key {
			return
		}
		group := f.acquireGroup(ctx, key, update.Forward.NextHops)
		f.prefixes[update.Prefix] = &prefixEntry{group: key, groupID: group.id, nextHops: update.Forward.NextHops}
		f.emit(ctx, api.AFTUpdate{
			Action:       api.Add,
			EntryType:    api.AFTEntryPrefix,
			Prefix:       update.Prefix,
			NextHopGroup: group.id,
		})
		if exists {
			f.releaseGroup(ctx, old.group)
		}
		scopedLog.WithField(logfields.Forward, update.Forward).Debug("Added/Updated route")

	case api.Delete:
		if !exists {
			return
		}
		delete(f.prefixes, update.Prefix)
		f.emit(ctx, api.AFTUpdate{
			Action:       api.Delete,
			EntryType:    api.AFTEntryPrefix,
			Prefix:       update.Prefix,
			NextHopGroup: old.groupID,
		})
		f.releaseGroup(ctx, old.group)
		scopedLog.Debug("Deleted route")
	}
}

func (f *FIB) acquireGroup(ctx context.Context, key string, set api.RouteNextHopSet) *groupEntry {
	if group, ok := f.groups[key]; ok {
		group.refs++
		return group
	}
	members := make([]uint64, 0, len(set))
	memberKeys := make([]string, 0, len(set))
	for _, nh := range set {
		members = append(members, f.acquireNextHop(ctx, nh).index)
		memberKeys = append(memberKeys, nh.Key())
	}
	f.lastGroup++
	group := &groupEntry{id: f.lastGroup, members: members, memberKeys: memberKeys, refs: 1}
	f.groups[key] = group
	f.emit(ctx, api.AFTUpdate{
		Action:         api.Add,
		EntryType:      api.AFTEntryNextHopGroup,
		NextHopGroup:   group.id,
		NextHopIndexes: slices.Clone(members),
	})
	return group
}

func (f *FIB) acquireNextHop(ctx context.Context, nh api.NextHop) *nextHopEntry {
	key := nh.Key()
	if entry, ok := f.nextHops[key]; ok {
		entry.refs++
		return entry
	}
	f.lastNextHop++
	entry := &nextHopEntry{index: f.lastNextHop, nh: nh, refs: 1}
	f.nextHops[key] = entry
	f.emit(ctx, api.AFTUpdate{
		Action:       api.Add,
		EntryType:    api.AFTEntryNextHop,
		NextHopIndex: entry.index,
		NextHop:      nh,
	})
	return entry
}

func (f *FIB) releaseGroup(ctx context.Context, key string) {
	group, ok := f.groups[key]
	if !ok {
		return
	}
	if group.refs--; group.refs > 0 {
		return
	}
	delete(f.groups, key)
	f.emit(ctx, api.AFTUpdate{
		Action:         api.Delete,
		EntryType:      api.AFTEntryNextHopGroup,
		NextHopGroup:   group.id,
		NextHopIndexes: group.members,
	})
	for _, memberKey := range group.memberKeys {
		f.releaseNextHop(ctx, memberKey)
	}
}

func (f *FIB) releaseNextHop(ctx context.Context, key string) {
	entry, ok := f.nextHops[key]
	if !ok {
		return
	}
	if entry.refs--; entry.refs > 0 {
		return
	}
	delete(f.nextHops, key)
	f.emit(ctx, api.AFTUpdate{
		Action:       api.Delete,
		EntryType:    api.AFTEntryNextHop,
		NextHopIndex: entry.index,
		NextHop:      entry.nh,
	})
}

func (f *FIB) emit(ctx context.Context, update api.AFTUpdate) {
	if f.telemetryChan == nil {
		return
	}
	select {
	case f.telemetryChan <- update:
	case <-ctx.Done():
	}
}

// GetSnapshot returns the current state of the FIB as a list of AFTUpdates:
// next-hops, then next-hop groups, then prefixes.
// This is used to synchronize new telemetry clients.
func (f *FIB) GetSnapshot() []api.AFTUpdate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := make([]api.AFTUpdate, 0, len(f.nextHops)+len(f.groups)+len(f.prefixes))

	nextHops := slices.SortedFunc(maps.Values(f.nextHops), func(a, b *nextHopEntry) int {
		return cmp.Compare(a.index, b.index)
	})
	for _, entry := range nextHops {
		snapshot = append(snapshot, api.AFTUpdate{
			Action:       api.Add,
			EntryType:    api.AFTEntryNextHop,
			NextHopIndex: entry.index,
			NextHop:      entry.nh,
		})
	}

	groups := slices.SortedFunc(maps.Values(f.groups), func(a, b *groupEntry) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, group := range groups {
		snapshot = append(snapshot, api.AFTUpdate{
			Action:         api.Add,
			EntryType:      api.AFTEntryNextHopGroup,
			NextHopGroup:   group.id,
			NextHopIndexes: slices.Clone(group.members),
		})
	}

	prefixes := slices.SortedFunc(maps.Keys(f.prefixes), comparePrefix)
	for _, prefix := range prefixes {
		snapshot = append(snapshot, api.AFTUpdate{
			Action:       api.Add,
			EntryType:    api.AFTEntryPrefix,
			Prefix:       prefix,
			NextHopGroup: f.prefixes[prefix].groupID,
		})
	}
	return snapshot
}

// Lookup returns the forwarding members installed for prefix.
func (f *FIB) Lookup(prefix netip.Prefix) (api.RouteNextHopSet, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, ok := f.prefixes[prefix]
	if !ok {
		return nil, false
	}
	return entry.nextHops, true
}

// Counts returns the number of installed next-hops, groups and prefixes.
func (f *FIB) Counts() (nextHops, groups, prefixes int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.nextHops), len(f.groups), len(f.prefixes)
}

func comparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return cmp.Compare(a.Bits(), b.Bits())
}
