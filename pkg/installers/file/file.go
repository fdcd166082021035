// Package file installs routes read from a route file.
//
// One update per line, fields separated by whitespace, '#' starts a comment:
//
//	route <client> <prefix> <nh>[,<nh>...]
//	iface <prefix> <local-addr> <ifid>
//	del <client> <prefix>
//	flush <client>
//
// A next-hop is "drop", "to_cpu", "addr", "addr%ifid" or "addr+l1/l2".
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

// Parse reads every update in r. Malformed lines are reported together; the
// updates of the valid lines are still returned.
func Parse(r io.Reader) ([]api.RIBUpdate, error) {
	var (
		updates []api.RIBUpdate
		errs    error
	)
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		update, err := parseLine(fields)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		updates = append(updates, update)
	}
	if err := scanner.Err(); err != nil {
		return updates, multierr.Append(errs, fmt.Errorf("scanning: %w", err))
	}
	return updates, errs
}

func parseLine(fields []string) (api.RIBUpdate, error) {
	want := map[string]int{"route": 4, "iface": 4, "del": 3, "flush": 2}
	n, ok := want[fields[0]]
	if !ok {
		return api.RIBUpdate{}, fmt.Errorf("unknown command %q", fields[0])
	}
	if len(fields) != n {
		return api.RIBUpdate{}, fmt.Errorf("%s: expected %d fields, got %d", fields[0], n, len(fields))
	}

	switch fields[0] {
	case "route":
		client, err := api.ParseClientID(fields[1])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		prefix, err := netip.ParsePrefix(fields[2])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		var entry api.NextHopEntry
		for _, s := range strings.Split(fields[3], ",") {
			nh, err := api.ParseNextHop(s)
			if err != nil {
				return api.RIBUpdate{}, err
			}
			entry = append(entry, nh)
		}
		return api.RIBUpdate{Action: api.Add, Client: client, Prefix: prefix.Masked(), NextHops: entry}, nil

	case "iface":
		prefix, err := netip.ParsePrefix(fields[1])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		local, err := netip.ParseAddr(fields[2])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		id, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			return api.RIBUpdate{}, fmt.Errorf("interface id: %w", err)
		}
		return api.RIBUpdate{
			Action:    api.AddInterface,
			Client:    api.ClientInterfaceRoute,
			Prefix:    prefix.Masked(),
			LocalAddr: local,
			Interface: api.InterfaceID(id),
		}, nil

	case "del":
		client, err := api.ParseClientID(fields[1])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		prefix, err := netip.ParsePrefix(fields[2])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		return api.RIBUpdate{Action: api.Delete, Client: client, Prefix: prefix.Masked()}, nil

	default:
		client, err := api.ParseClientID(fields[1])
		if err != nil {
			return api.RIBUpdate{}, err
		}
		return api.RIBUpdate{Action: api.DeleteClient, Client: client}, nil
	}
}

// ParseFile parses the route file at path.
func ParseFile(path string) ([]api.RIBUpdate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening route file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Installer sends the updates of a route file to the RIB once.
type Installer struct {
	path string
}

// New creates an installer for the route file at path.
func New(path string) *Installer {
	return &Installer{path: path}
}

// Run parses the file and sends its updates. Nothing is sent if the file has
// errors.
func (i *Installer) Run(ctx context.Context, ribChan chan<- api.RIBUpdate) error {
	updates, err := ParseFile(i.path)
	if err != nil {
		return err
	}
	for _, update := range updates {
		select {
		case ribChan <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logging.ForSubsys("file-installer").WithFields(logrus.Fields{
		logfields.Path:  i.path,
		logfields.Count: len(updates),
	}).Info("Installed route file")
	return nil
}
