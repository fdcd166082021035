package api

import (
	"fmt"
	"strconv"
	"strings"
)

// ClientID identifies the origin of a route contribution. Lower values have
// higher priority when several clients contribute to the same prefix.
type ClientID uint16

const (
	// ClientLinkLocal owns the fixed link-local routes.
	ClientLinkLocal ClientID = 0
	// ClientInterfaceRoute owns directly connected interface routes.
	ClientInterfaceRoute ClientID = 1
	// ClientStaticRoute owns configured static routes.
	ClientStaticRoute ClientID = 2
	// ClientStaticInternal owns routes installed by the agent itself.
	ClientStaticInternal ClientID = 3
	// ClientOpenR owns routes learned from Open/R.
	ClientOpenR ClientID = 10
	// ClientBGP owns routes learned from BGP.
	ClientBGP ClientID = 20
)

var clientNames = map[ClientID]string{
	ClientLinkLocal:      "LINKLOCAL",
	ClientInterfaceRoute: "INTERFACE",
	ClientStaticRoute:    "STATIC",
	ClientStaticInternal: "STATIC_INTERNAL",
	ClientOpenR:          "OPENR",
	ClientBGP:            "BGP",
}

func (c ClientID) String() string {
	if name, ok := clientNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// ParseClientID accepts either a well-known client name (case insensitive)
// or a decimal client number.
func ParseClientID(s string) (ClientID, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for id, name := range clientNames {
		if name == upper {
			return id, nil
		}
	}
	n, err := strconv.ParseUint(upper, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown client %q", s)
	}
	return ClientID(n), nil
}
