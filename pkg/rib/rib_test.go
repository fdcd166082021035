package rib

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/openconfig/aft-resolver/pkg/api"
)

var (
	ifacePrefix = netip.MustParsePrefix("192.168.1.0/24")
	ifaceAddr   = netip.MustParseAddr("192.168.1.10")
)

func expectFIB(t *testing.T, fibChan <-chan api.FIBUpdate, action api.ActionType, prefix string, forward string) {
	t.Helper()
	select {
	case update := <-fibChan:
		if update.Action != action {
			t.Errorf("Expected %v for %s, got %v", action, prefix, update.Action)
		}
		if update.Prefix != netip.MustParsePrefix(prefix) {
			t.Errorf("Expected prefix %s, got %s", prefix, update.Prefix)
		}
		if action == api.Add && update.Forward.String() != forward {
			t.Errorf("Expected forwarding %s for %s, got %s", forward, prefix, update.Forward)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("Timeout waiting for FIB update of %s", prefix)
	}
}

func expectNoFIB(t *testing.T, fibChan <-chan api.FIBUpdate) {
	t.Helper()
	select {
	case update := <-fibChan:
		t.Errorf("Expected no FIB update, got %+v", update)
	case <-time.After(100 * time.Millisecond):
	}
}

func ifaceUpdate() api.RIBUpdate {
	return api.RIBUpdate{
		Action:    api.AddInterface,
		Client:    api.ClientInterfaceRoute,
		Prefix:    ifacePrefix,
		LocalAddr: ifaceAddr,
		Interface: 1,
	}
}

func routeUpdate(client api.ClientID, prefix string, nhs ...string) api.RIBUpdate {
	entry := make(api.NextHopEntry, 0, len(nhs))
	for _, s := range nhs {
		nh, err := api.ParseNextHop(s)
		if err != nil {
			panic(err)
		}
		entry = append(entry, nh)
	}
	return api.RIBUpdate{
		Action:   api.Add,
		Client:   client,
		Prefix:   netip.MustParsePrefix(prefix),
		NextHops: entry,
	}
}

// newConnectedRIB returns a RIB holding the connected route of ifacePrefix,
// with the initial FIB updates consumed.
func newConnectedRIB(t *testing.T) (*RIB, chan api.FIBUpdate) {
	t.Helper()
	fibChan := make(chan api.FIBUpdate, 16)
	r := New(fibChan)
	if err := r.AddRoute(ifaceUpdate()); err != nil {
		t.Fatalf("AddRoute(interface) failed: %v", err)
	}
	expectFIB(t, fibChan, api.Add, "192.168.1.0/24", "{192.168.1.10%1}")
	expectFIB(t, fibChan, api.Add, "fe80::/64", "TO_CPU")
	return r, fibChan
}

func TestRIB_AddRoute_BestPath(t *testing.T) {
	r, fibChan := newConnectedRIB(t)

	// 1. Static route through the connected subnet.
	if err := r.AddRoute(routeUpdate(api.ClientStaticRoute, "10.0.0.0/24", "192.168.1.1")); err != nil {
		t.Fatalf("AddRoute failed: %v", err)
	}
	expectFIB(t, fibChan, api.Add, "10.0.0.0/24", "{192.168.1.1%1}")

	// 2. BGP has a higher client id and does not change the result.
	if err := r.AddRoute(routeUpdate(api.ClientBGP, "10.0.0.0/24", "192.168.1.2")); err != nil {
		t.Fatalf("AddRoute failed: %v", err)
	}
	expectNoFIB(t, fibChan)

	fwd, ok := r.ForwardInfo(netip.MustParsePrefix("10.0.0.0/24"))
	if !ok || fwd.String() != "{192.168.1.1%1}" {
		t.Errorf("Expected {192.168.1.1%%1}, got %s (found=%v)", fwd, ok)
	}
}

func TestRIB_DeleteRoute_PromoteNextBest(t *testing.T) {
	r, fibChan := newConnectedRIB(t)

	r.AddRoute(routeUpdate(api.ClientStaticRoute, "20.0.0.0/24", "192.168.1.1"))
	expectFIB(t, fibChan, api.Add, "20.0.0.0/24", "{192.168.1.1%1}")
	r.AddRoute(routeUpdate(api.ClientBGP, "20.0.0.0/24", "192.168.1.2"))
	expectNoFIB(t, fibChan)

	if err := r.DeleteRoute(api.RIBUpdate{Client: api.ClientStaticRoute, Prefix: netip.MustParsePrefix("20.0.0.0/24")}); err != nil {
		t.Fatalf("DeleteRoute failed: %v", err)
	}
	expectFIB(t, fibChan, api.Add, "20.0.0.0/24", "{192.168.1.2%1}")
}

func TestRIB_DeleteAllRoutes(t *testing.T) {
	r, fibChan := newConnectedRIB(t)
	prefix := netip.MustParsePrefix("30.0.0.0/24")

	r.AddRoute(routeUpdate(api.ClientStaticRoute, "30.0.0.0/24", "drop"))
	expectFIB(t, fibChan, api.Add, "30.0.0.0/24", "DROP")

	r.DeleteRoute(api.RIBUpdate{Client: api.ClientStaticRoute, Prefix: prefix})
	expectFIB(t, fibChan, api.Delete, "30.0.0.0/24", "")

	if _, ok := r.ForwardInfo(prefix); ok {
		t.Errorf("Expected %s to be gone", prefix)
	}
}

func TestRIB_InterfaceDown_WithdrawsDependents(t *testing.T) {
	r, fibChan := newConnectedRIB(t)

	r.AddRoute(routeUpdate(api.ClientBGP, "40.0.0.0/24", "192.168.1.1"))
	expectFIB(t, fibChan, api.Add, "40.0.0.0/24", "{192.168.1.1%1}")

	r.DeleteRoute(api.RIBUpdate{Client: api.ClientInterfaceRoute, Prefix: ifacePrefix})
	expectFIB(t, fibChan, api.Delete, "40.0.0.0/24", "")
	expectFIB(t, fibChan, api.Delete, "192.168.1.0/24", "")

	// The unresolved route stays in the RIB and comes back with the interface.
	r.AddRoute(ifaceUpdate())
	expectFIB(t, fibChan, api.Add, "40.0.0.0/24", "{192.168.1.1%1}")
	expectFIB(t, fibChan, api.Add, "192.168.1.0/24", "{192.168.1.10%1}")
}

func TestRIB_DeleteClient(t *testing.T) {
	r, fibChan := newConnectedRIB(t)

	_, err := r.Apply(context.Background(), []api.RIBUpdate{
		routeUpdate(api.ClientBGP, "50.0.0.0/24", "192.168.1.1"),
		routeUpdate(api.ClientBGP, "51.0.0.0/24", "192.168.1.2"),
		routeUpdate(api.ClientOpenR, "51.0.0.0/24", "192.168.1.3"),
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	expectFIB(t, fibChan, api.Add, "50.0.0.0/24", "{192.168.1.1%1}")
	expectFIB(t, fibChan, api.Add, "51.0.0.0/24", "{192.168.1.3%1}")

	_, err = r.Apply(context.Background(), []api.RIBUpdate{{Action: api.DeleteClient, Client: api.ClientOpenR}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	expectFIB(t, fibChan, api.Add, "51.0.0.0/24", "{192.168.1.2%1}")
	expectNoFIB(t, fibChan)
}

func TestRIB_Apply_PartialFailure(t *testing.T) {
	r, fibChan := newConnectedRIB(t)

	stats, err := r.Apply(context.Background(), []api.RIBUpdate{
		{Action: api.Add, Client: api.ClientBGP, Prefix: netip.MustParsePrefix("60.0.0.0/24")},
		{Action: api.Add, Client: api.ClientBGP},
		routeUpdate(api.ClientBGP, "61.0.0.0/24", "192.168.1.1"),
	})
	if err == nil {
		t.Fatal("Expected an error for the invalid updates")
	}
	if stats.Resolved != 3 {
		t.Errorf("Expected 3 resolved routes, got %d", stats.Resolved)
	}
	expectFIB(t, fibChan, api.Add, "61.0.0.0/24", "{192.168.1.1%1}")
	expectNoFIB(t, fibChan)
}

func TestRIB_Start(t *testing.T) {
	fibChan := make(chan api.FIBUpdate, 16)
	in := make(chan api.RIBUpdate, 4)
	r := New(fibChan)

	in <- ifaceUpdate()
	in <- routeUpdate(api.ClientBGP, "70.0.0.0/24", "192.168.1.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx, in) }()

	expectFIB(t, fibChan, api.Add, "70.0.0.0/24", "{192.168.1.1%1}")
	expectFIB(t, fibChan, api.Add, "192.168.1.0/24", "{192.168.1.10%1}")
	expectFIB(t, fibChan, api.Add, "fe80::/64", "TO_CPU")

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for Start to return")
	}
	if _, ok := <-fibChan; ok {
		t.Error("Expected the FIB channel to be closed")
	}
}

func TestRIB_LookupAndRoutes(t *testing.T) {
	r, _ := newConnectedRIB(t)
	r.AddRoute(routeUpdate(api.ClientBGP, "0.0.0.0/0", "192.168.1.254"))
	r.AddRoute(routeUpdate(api.ClientOpenR, "0.0.0.0/0", "192.168.1.253"))

	prefix, fwd, ok := r.LongestMatch(netip.MustParseAddr("8.8.8.8"))
	if !ok || prefix != netip.MustParsePrefix("0.0.0.0/0") {
		t.Fatalf("Expected default route, got %s (found=%v)", prefix, ok)
	}
	if fwd.String() != "{192.168.1.253%1}" {
		t.Errorf("Unexpected forwarding %s", fwd)
	}
	if _, _, ok := r.LongestMatch(netip.MustParseAddr("2001:db8::1")); ok {
		t.Error("Expected no IPv6 match")
	}

	routes := r.Routes()
	if len(routes) != 3 {
		t.Fatalf("Expected 3 routes, got %d", len(routes))
	}
	def := routes[0]
	if def.Prefix != netip.MustParsePrefix("0.0.0.0/0") || def.BestClient != api.ClientOpenR || len(def.Clients) != 2 {
		t.Errorf("Unexpected default route snapshot %+v", def)
	}
	if !routes[1].Connected || routes[1].Prefix != ifacePrefix {
		t.Errorf("Expected the connected route second, got %+v", routes[1])
	}
	if routes[2].Prefix != linkLocalPrefix {
		t.Errorf("Expected the link-local route last, got %+v", routes[2])
	}
}
