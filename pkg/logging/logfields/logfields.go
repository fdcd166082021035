// Package logfields defines the structured logging keys shared across the
// resolver.
package logfields

const (
	// Subsys is the subsystem emitting the log line.
	Subsys = "subsys"
	// Prefix is a route prefix.
	Prefix = "prefix"
	// Client is the route client ID.
	Client = "client"
	// NextHop is a next-hop or next-hop entry.
	NextHop = "nexthop"
	// Interface is an interface ID.
	Interface = "interface"
	// Family is an address family.
	Family = "family"
	// Forward is a resolved forwarding result.
	Forward = "forward"
	// Action is an update action.
	Action = "action"
	// Count is a generic counter.
	Count = "count"
	// Duration is an elapsed time.
	Duration = "duration"
	// Path is a filesystem path.
	Path = "path"
	// Address is a listen address.
	Address = "address"
)
