package mock

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/config"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

// recursiveEvery makes every n-th BGP route resolve through another BGP
// route instead of a connected subnet.
const recursiveEvery = 10

// MockInstaller injects a synthetic routing table: one connected /24 per
// interface, RouteCount BGP routes recursive through them and then random
// churn on the BGP routes.
type MockInstaller struct {
	cfg config.MockConfig
	rnd *rand.Rand
	log logrus.FieldLogger

	withdrawn map[int]bool
}

// New creates a new MockInstaller.
func New(cfg config.MockConfig) *MockInstaller {
	seed := uint64(time.Now().UnixNano())
	return &MockInstaller{
		cfg:       cfg,
		rnd:       rand.New(rand.NewPCG(seed, seed>>32)),
		log:       logging.ForSubsys("mock-installer"),
		withdrawn: make(map[int]bool),
	}
}

// InterfacePrefix returns the connected subnet of interface id.
func InterfacePrefix(id int) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{192, 168, byte(id), 0}), 24)
}

// RoutePrefix returns the prefix of BGP route i.
func RoutePrefix(i int) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i >> 8), byte(i), 0}), 24)
}

func (m *MockInstaller) interfaceUpdate(id int) api.RIBUpdate {
	return api.RIBUpdate{
		Action:    api.AddInterface,
		Client:    api.ClientInterfaceRoute,
		Prefix:    InterfacePrefix(id),
		LocalAddr: netip.AddrFrom4([4]byte{192, 168, byte(id), 1}),
		Interface: api.InterfaceID(id),
	}
}

// routeUpdate returns the BGP route i. Every recursiveEvery-th route points
// into the previous BGP prefix; the others use one or two gateways on the
// connected subnets, with generation shifting the choice on churn.
func (m *MockInstaller) routeUpdate(i, generation int) api.RIBUpdate {
	var entry api.NextHopEntry
	if i > 0 && i%recursiveEvery == 0 {
		prev := RoutePrefix(i - 1).Addr().As4()
		entry = api.NextHopEntry{api.IPNextHop(netip.AddrFrom4([4]byte{prev[0], prev[1], prev[2], 1}))}
	} else {
		for k := 0; k <= (i+generation)%2; k++ {
			intf := (i+generation+k)%m.cfg.Interfaces + 1
			gw := netip.AddrFrom4([4]byte{192, 168, byte(intf), 254})
			entry = append(entry, api.IPNextHop(gw))
		}
	}
	return api.RIBUpdate{
		Action:   api.Add,
		Client:   api.ClientBGP,
		Prefix:   RoutePrefix(i),
		NextHops: entry,
	}
}

func send(ctx context.Context, ribChan chan<- api.RIBUpdate, update api.RIBUpdate) error {
	select {
	case ribChan <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run injects the initial table and then churns until ctx is done.
func (m *MockInstaller) Run(ctx context.Context, ribChan chan<- api.RIBUpdate) error {
	m.log.WithFields(logrus.Fields{
		logfields.Count: m.cfg.RouteCount,
		"interfaces":    m.cfg.Interfaces,
		"churn_rate":    m.cfg.ChurnRate,
	}).Info("Starting mock installer")

	for id := 1; id <= m.cfg.Interfaces; id++ {
		if err := send(ctx, ribChan, m.interfaceUpdate(id)); err != nil {
			return err
		}
	}
	for i := 0; i < m.cfg.RouteCount; i++ {
		if err := send(ctx, ribChan, m.routeUpdate(i, 0)); err != nil {
			return err
		}
	}
	m.log.Info("Initial table injected")

	if m.cfg.RouteCount == 0 || m.cfg.ChurnRate <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Second / time.Duration(m.cfg.ChurnRate))
	defer ticker.Stop()
	for generation := 1; ; generation++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := send(ctx, ribChan, m.churn(generation)); err != nil {
				return err
			}
		}
	}
}

// churn withdraws a random route or brings it back with shifted next-hops.
func (m *MockInstaller) churn(generation int) api.RIBUpdate {
	i := m.rnd.IntN(m.cfg.RouteCount)
	if !m.withdrawn[i] && m.rnd.IntN(4) == 0 {
		m.withdrawn[i] = true
		return api.RIBUpdate{Action: api.Delete, Client: api.ClientBGP, Prefix: RoutePrefix(i)}
	}
	delete(m.withdrawn, i)
	return m.routeUpdate(i, generation)
}
