package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/fib"
	"github.com/openconfig/aft-resolver/pkg/installers/file"
	"github.com/openconfig/aft-resolver/pkg/rib"
)

var showAFT bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <file>",
	Short: "Resolve a route file offline and print the result",
	Long: `Resolve a route file offline and print the result.

The configured interfaces and static routes are installed first, then the
updates of the file in order, followed by a single resolution pass.

Example file content:
  # connected
  iface 192.168.1.0/24 192.168.1.10 1
  route bgp 10.0.0.0/8 192.168.1.1,192.168.1.2
  route bgp 20.0.0.0/8 10.0.0.1+100

Usage:
  aft-resolver resolve routes.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		updates, err := cfg.StaticUpdates()
		if err != nil {
			return err
		}
		fromFile, err := file.ParseFile(args[0])
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		updates = append(updates, fromFile...)

		r := rib.New(nil)
		stats, err := r.Apply(cmd.Context(), updates)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if showAFT {
			return printAFT(out, r)
		}
		if err := printRoutes(out, r.Routes()); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "\n%d resolved, %d unresolved, %d cycle breaks in %s\n",
			stats.Resolved, stats.Unresolved, stats.Cycles, stats.Duration)
		return err
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&showAFT, "aft", false, "Print the AFT entries instead of the routes")
	rootCmd.AddCommand(resolveCmd)
}

func printRoutes(out io.Writer, routes []rib.RouteSnapshot) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tCLIENT\tFORWARD")
	for _, route := range routes {
		client := route.BestClient.String()
		if route.Connected {
			client += " (connected)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", route.Prefix, client, route.Forward)
	}
	return w.Flush()
}

func printAFT(out io.Writer, r *rib.RIB) error {
	f := fib.New(nil)
	for _, route := range r.Routes() {
		if route.Forward.Resolved {
			f.Update(api.FIBUpdate{Action: api.Add, Prefix: route.Prefix, Forward: route.Forward})
		}
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, entry := range f.GetSnapshot() {
		switch entry.EntryType {
		case api.AFTEntryNextHop:
			fmt.Fprintf(w, "next-hop\t%d\t%s\n", entry.NextHopIndex, entry.NextHop)
		case api.AFTEntryNextHopGroup:
			fmt.Fprintf(w, "next-hop-group\t%d\t%v\n", entry.NextHopGroup, entry.NextHopIndexes)
		case api.AFTEntryPrefix:
			fmt.Fprintf(w, "prefix\t%s\tgroup %d\n", entry.Prefix, entry.NextHopGroup)
		}
	}
	return w.Flush()
}
