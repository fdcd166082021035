package file

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/openconfig/aft-resolver/pkg/api"
)

const routes = `
# connected
iface 192.168.1.0/24 192.168.1.10 1

route static 10.0.0.0/8 192.168.1.1,192.168.1.2
route bgp 20.0.0.0/8 10.0.0.1+100/200   # labelled
route 20 0.0.0.0/0 drop
del bgp 20.0.0.0/8
flush openr
`

func TestParse(t *testing.T) {
	updates, err := Parse(strings.NewReader(routes))
	require.NoError(t, err)
	require.Len(t, updates, 6)

	require.Equal(t, api.RIBUpdate{
		Action:    api.AddInterface,
		Client:    api.ClientInterfaceRoute,
		Prefix:    netip.MustParsePrefix("192.168.1.0/24"),
		LocalAddr: netip.MustParseAddr("192.168.1.10"),
		Interface: 1,
	}, updates[0])

	require.Equal(t, api.ClientStaticRoute, updates[1].Client)
	require.Equal(t, "[192.168.1.1, 192.168.1.2]", updates[1].NextHops.String())
	require.Equal(t, "[10.0.0.1 PUSH[100/200]]", updates[2].NextHops.String())
	require.Equal(t, api.ClientBGP, updates[3].Client)
	require.Equal(t, "[DROP]", updates[3].NextHops.String())

	require.Equal(t, api.RIBUpdate{Action: api.Delete, Client: api.ClientBGP, Prefix: netip.MustParsePrefix("20.0.0.0/8")}, updates[4])
	require.Equal(t, api.RIBUpdate{Action: api.DeleteClient, Client: api.ClientOpenR}, updates[5])
}

func TestParseErrors(t *testing.T) {
	input := strings.Join([]string{
		"route static 10.0.0.0/8",
		"route nobody 10.0.0.0/8 drop",
		"route static 10.0.0.0/33 drop",
		"route static 10.0.0.0/8 10.0.0.1%eth0",
		"iface 192.168.1.0/24 192.168.1.1 x",
		"teleport 10.0.0.0/8",
		"route static 30.0.0.0/8 drop",
	}, "\n")

	updates, err := Parse(strings.NewReader(input))
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 6)
	require.ErrorContains(t, errs[0], "line 1")
	require.ErrorContains(t, errs[5], "line 6")
	require.ErrorIs(t, err, api.ErrInvalidNextHop)
	require.Len(t, updates, 1)
}

func TestInstallerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.txt")
	require.NoError(t, os.WriteFile(path, []byte(routes), 0o600))

	ribChan := make(chan api.RIBUpdate, 10)
	require.NoError(t, New(path).Run(context.Background(), ribChan))
	require.Len(t, ribChan, 6)

	err := New(filepath.Join(t.TempDir(), "missing.txt")).Run(context.Background(), ribChan)
	require.Error(t, err)
}
