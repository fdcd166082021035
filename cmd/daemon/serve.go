package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/config"
	"github.com/openconfig/aft-resolver/pkg/fib"
	"github.com/openconfig/aft-resolver/pkg/installers/file"
	"github.com/openconfig/aft-resolver/pkg/installers/mock"
	"github.com/openconfig/aft-resolver/pkg/installers/static"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
	"github.com/openconfig/aft-resolver/pkg/metrics"
	"github.com/openconfig/aft-resolver/pkg/rib"
	"github.com/openconfig/aft-resolver/pkg/telemetry"
)

var routeFiles []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resolver daemon",
	Long: `Run the resolver daemon.

Routes come from the configured interfaces and static routes, the mock
installer when enabled, and any route files given with --routes. The AFTs
are served over gNMI Subscribe (STREAM mode) and resolution metrics over
HTTP.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// Create context that cancels on SIGINT or SIGTERM
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringSliceVarP(&routeFiles, "routes", "r", nil, "Route files to install at startup")
	rootCmd.AddCommand(serveCmd)
}

func installers(cfg *config.Config) []api.RouteInstaller {
	insts := []api.RouteInstaller{static.New(cfg)}
	if cfg.Mock.Enabled {
		insts = append(insts, mock.New(cfg.Mock))
	}
	for _, path := range routeFiles {
		insts = append(insts, file.New(path))
	}
	return insts
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.ForSubsys("daemon")

	// Initialize Channels
	ribChan := make(chan api.RIBUpdate, 100)
	fibChan := make(chan api.FIBUpdate, 100)
	telemetryChan := make(chan api.AFTUpdate, 100)

	// Initialize Components
	resolverMetrics := metrics.NewResolver()
	r := rib.New(fibChan, rib.WithObserver(resolverMetrics))
	f := fib.New(telemetryChan)
	ts := telemetry.New(f, telemetryChan)

	g, ctx := errgroup.WithContext(ctx)

	// 1. RIB, closes fibChan on return.
	g.Go(func() error {
		return r.Start(ctx, ribChan)
	})

	// 2. FIB, closes telemetryChan on return.
	g.Go(func() error {
		return f.Start(ctx, fibChan)
	})

	// 3. Telemetry fan-out
	g.Go(func() error {
		return ts.Run(ctx)
	})

	// 4. gRPC Server
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GNMIPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s := grpc.NewServer()
	pb.RegisterGNMIServer(s, ts)
	reflection.Register(s)

	g.Go(func() error {
		log.WithField(logfields.Address, lis.Addr()).Info("gNMI server listening")
		errChan := make(chan error, 1)
		go func() {
			errChan <- s.Serve(lis)
		}()

		select {
		case <-ctx.Done():
			s.GracefulStop()
			return <-errChan
		case err := <-errChan:
			return err
		}
	})

	// 5. Metrics
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", resolverMetrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField(logfields.Address, cfg.MetricsAddr).Info("Metrics server listening")
			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errChan:
				return err
			}
		})
	}

	// 6. Route installers. ribChan stays open until shutdown so the RIB
	// keeps its routes once one-shot installers are done.
	g.Go(func() error {
		ig, ictx := errgroup.WithContext(ctx)
		for _, inst := range installers(cfg) {
			ig.Go(func() error {
				return inst.Run(ictx, ribChan)
			})
		}
		err := ig.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-ctx.Done()
		close(ribChan)
		return nil
	})

	log.Info("Daemon running. Press Ctrl+C to stop.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Daemon error")
		return err
	}
	log.Info("Daemon stopped.")
	return nil
}
