// Package static installs the interfaces and static routes of the
// configuration.
package static

import (
	"context"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/config"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

// Installer sends the configured routes once and then stays idle, keeping
// the routes owned for the lifetime of the process.
type Installer struct {
	cfg *config.Config
}

// New creates a new static Installer.
func New(cfg *config.Config) *Installer {
	return &Installer{cfg: cfg}
}

// Run sends the configured routes and blocks until ctx is done.
func (i *Installer) Run(ctx context.Context, ribChan chan<- api.RIBUpdate) error {
	updates, err := i.cfg.StaticUpdates()
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
	logging.ForSubsys("static-installer").WithField(logfields.Count, len(updates)).Info("Installed static routes")

	<-ctx.Done()
	return ctx.Err()
}
