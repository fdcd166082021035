package api

import (
	"context"
	"net/netip"
)

// ActionType defines the type of update.
type ActionType string

const (
	// Add indicates a route addition or replacement.
	Add ActionType = "ADD"
	// Delete indicates a route removal.
	Delete ActionType = "DELETE"
	// AddInterface indicates a directly connected interface route.
	AddInterface ActionType = "ADD_INTERFACE"
	// DeleteClient removes every route owned by a client.
	DeleteClient ActionType = "DELETE_CLIENT"
)

// RIBUpdate represents an update from an installer to the RIB.
type RIBUpdate struct {
	Action ActionType
	Client ClientID
	Prefix netip.Prefix
	// NextHops is used by Add.
	NextHops NextHopEntry
	// LocalAddr and Interface are used by AddInterface.
	LocalAddr netip.Addr
	Interface InterfaceID
}

// FIBUpdate represents an update from the RIB to the FIB. It carries the
// resolved forwarding result of a prefix whose result changed.
type FIBUpdate struct {
	Action  ActionType
	Prefix  netip.Prefix
	Forward ForwardInfo
}

// AFTEntryType identifies which AFT table an AFTUpdate refers to.
type AFTEntryType string

const (
	AFTEntryNextHop      AFTEntryType = "NEXT_HOP"
	AFTEntryNextHopGroup AFTEntryType = "NEXT_HOP_GROUP"
	AFTEntryPrefix       AFTEntryType = "PREFIX"
)

// AFTUpdate represents an update from the FIB to the Telemetry server.
// It is used to generate gNMI notifications.
type AFTUpdate struct {
	Action    ActionType
	EntryType AFTEntryType

	// Set for AFTEntryPrefix.
	Prefix netip.Prefix
	// Set for AFTEntryPrefix and AFTEntryNextHopGroup.
	NextHopGroup uint64
	// Set for AFTEntryNextHopGroup.
	NextHopIndexes []uint64
	// Set for AFTEntryNextHop.
	NextHopIndex uint64
	NextHop      NextHop
}

// RouteInstaller is the interface for modules that inject routes into the RIB.
type RouteInstaller interface {
	// Run sends updates into ribChan until it is done or ctx is cancelled.
	Run(ctx context.Context, ribChan chan<- RIBUpdate) error
}
