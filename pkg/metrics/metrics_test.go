package metrics

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/rib"
)

func TestResolverObservePass(t *testing.T) {
	r := NewResolver()
	r.ObservePass(rib.ResolveStats{Resolved: 3, Unresolved: 2, Cycles: 1, Duration: time.Millisecond})
	r.ObservePass(rib.ResolveStats{Resolved: 1})
	r.ObserveRoutes("ipv4", 7)

	require.Equal(t, 2.0, testutil.ToFloat64(r.passes))
	require.Equal(t, 4.0, testutil.ToFloat64(r.resolved))
	require.Equal(t, 2.0, testutil.ToFloat64(r.unresolved))
	require.Equal(t, 1.0, testutil.ToFloat64(r.cycles))
	require.Equal(t, 7.0, testutil.ToFloat64(r.routes.WithLabelValues("ipv4")))
	require.Equal(t, 1, testutil.CollectAndCount(r.passDuration))
}

func TestResolverWiredIntoRIB(t *testing.T) {
	m := NewResolver()
	r := rib.New(nil, rib.WithObserver(m))

	nh := api.IPNextHop(netip.MustParseAddr("192.168.1.1"))
	err := r.AddRoute(api.RIBUpdate{
		Client:   api.ClientBGP,
		Prefix:   netip.MustParsePrefix("10.0.0.0/24"),
		NextHops: api.NextHopEntry{nh},
	})
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.passes))
	// fe80::/64 resolves, the BGP route has no covering route.
	require.Equal(t, 1.0, testutil.ToFloat64(m.resolved))
	require.Equal(t, 1.0, testutil.ToFloat64(m.unresolved))
	require.Equal(t, 1.0, testutil.ToFloat64(m.routes.WithLabelValues("ipv4")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.routes.WithLabelValues("ipv6")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "aft_resolver_resolve_passes_total 1"))
}
