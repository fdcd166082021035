package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/logging"
)

// EnvPrefix prefixes environment variables overriding config keys, e.g.
// AFTRESOLVER_GNMI_PORT.
const EnvPrefix = "AFTRESOLVER"

// MaxMockRoutes bounds mock_installer.route_count. Mock route i is
// 10.(i>>8).(i&0xff).0/24, so higher indexes would alias.
const MaxMockRoutes = 1 << 16

// Config holds the application configuration.
type Config struct {
	GNMIPort     int                 `mapstructure:"gnmi_port"`
	MetricsAddr  string              `mapstructure:"metrics_addr"`
	LogLevel     string              `mapstructure:"log_level"`
	LogFormat    string              `mapstructure:"log_format"`
	Mock         MockConfig          `mapstructure:"mock_installer"`
	Interfaces   []InterfaceConfig   `mapstructure:"interfaces"`
	StaticRoutes []StaticRouteConfig `mapstructure:"static_routes"`
}

// MockConfig holds configuration for the mock route installer.
type MockConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	RouteCount int  `mapstructure:"route_count"`
	ChurnRate  int  `mapstructure:"churn_rate"` // Updates per second
	Interfaces int  `mapstructure:"interfaces"`
}

// InterfaceConfig is a directly connected interface. Address is the local
// address in CIDR notation, e.g. 192.168.1.10/24.
type InterfaceConfig struct {
	ID      uint32 `mapstructure:"id"`
	Address string `mapstructure:"address"`
}

// StaticRouteConfig is a route installed at startup. NextHops use the
// next-hop syntax of api.ParseNextHop.
type StaticRouteConfig struct {
	Prefix   string   `mapstructure:"prefix"`
	Client   string   `mapstructure:"client"`
	NextHops []string `mapstructure:"next_hops"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		GNMIPort:    50099,
		MetricsAddr: ":9099",
		LogLevel:    "info",
		LogFormat:   logging.FormatText,
		Mock: MockConfig{
			Enabled:    true,
			RouteCount: 1000,
			ChurnRate:  100,
			Interfaces: 4,
		},
	}
}

// Load reads configuration from a YAML or JSON file on top of the defaults.
// An empty path only applies the defaults and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("gnmi_port", def.GNMIPort)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("mock_installer.enabled", def.Mock.Enabled)
	v.SetDefault("mock_installer.route_count", def.Mock.RouteCount)
	v.SetDefault("mock_installer.churn_rate", def.Mock.ChurnRate)
	v.SetDefault("mock_installer.interfaces", def.Mock.Interfaces)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs error
	if c.GNMIPort <= 0 || c.GNMIPort > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("gnmi_port %d out of range", c.GNMIPort))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		errs = multierr.Append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.Mock.Enabled {
		if c.Mock.RouteCount < 0 {
			errs = multierr.Append(errs, errors.New("mock_installer.route_count must not be negative"))
		}
		if c.Mock.RouteCount > MaxMockRoutes {
			errs = multierr.Append(errs, fmt.Errorf("mock_installer.route_count %d exceeds %d", c.Mock.RouteCount, MaxMockRoutes))
		}
		if c.Mock.ChurnRate <= 0 {
			errs = multierr.Append(errs, errors.New("mock_installer.churn_rate must be positive"))
		}
		if c.Mock.Interfaces <= 0 || c.Mock.Interfaces > 255 {
			errs = multierr.Append(errs, fmt.Errorf("mock_installer.interfaces %d out of range", c.Mock.Interfaces))
		}
	}
	_, err := c.StaticUpdates()
	return multierr.Append(errs, err)
}

// StaticUpdates converts the configured interfaces and static routes into
// RIB updates, interfaces first.
func (c *Config) StaticUpdates() ([]api.RIBUpdate, error) {
	var (
		updates []api.RIBUpdate
		errs    error
	)
	ids := make(map[uint32]struct{}, len(c.Interfaces))
	for i, intf := range c.Interfaces {
		update, err := intf.update()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("interfaces[%d]: %w", i, err))
			continue
		}
		if _, dup := ids[intf.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("interfaces[%d]: duplicate id %d", i, intf.ID))
			continue
		}
		ids[intf.ID] = struct{}{}
		updates = append(updates, update)
	}
	for i, route := range c.StaticRoutes {
		update, err := route.update()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("static_routes[%d]: %w", i, err))
			continue
		}
		updates = append(updates, update)
	}
	return updates, errs
}

func (i InterfaceConfig) update() (api.RIBUpdate, error) {
	if api.InterfaceID(i.ID) == api.NoInterface {
		return api.RIBUpdate{}, errors.New("interface id must not be 0")
	}
	addr, err := netip.ParsePrefix(i.Address)
	if err != nil {
		return api.RIBUpdate{}, fmt.Errorf("address: %w", err)
	}
	return api.RIBUpdate{
		Action:    api.AddInterface,
		Client:    api.ClientInterfaceRoute,
		Prefix:    addr.Masked(),
		LocalAddr: addr.Addr(),
		Interface: api.InterfaceID(i.ID),
	}, nil
}

func (r StaticRouteConfig) update() (api.RIBUpdate, error) {
	prefix, err := netip.ParsePrefix(r.Prefix)
	if err != nil {
		return api.RIBUpdate{}, fmt.Errorf("prefix: %w", err)
	}
	client := api.ClientStaticRoute
	if r.Client != "" {
		if client, err = api.ParseClientID(r.Client); err != nil {
			return api.RIBUpdate{}, err
		}
	}
	if len(r.NextHops) == 0 {
		return api.RIBUpdate{}, fmt.Errorf("%w: route %s without next-hops", api.ErrInvalidNextHop, prefix)
	}
	entry := make(api.NextHopEntry, 0, len(r.NextHops))
	for _, s := range r.NextHops {
		nh, err := api.ParseNextHop(s)
		if err != nil {
			return api.RIBUpdate{}, err
		}
		entry = append(entry, nh)
	}
	return api.RIBUpdate{
		Action:   api.Add,
		Client:   client,
		Prefix:   prefix.Masked(),
		NextHops: entry,
	}, nil
}
