// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// DefaultLogger is the logger every subsystem derives from.
var DefaultLogger = initDefaultLogger()

func initDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		DisableTimestamp: false,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogLevel sets the level of DefaultLogger.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	DefaultLogger.SetLevel(lvl)
	return nil
}

// SetLogFormat switches DefaultLogger between text and json output.
func SetLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		DefaultLogger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	case FormatJSON:
		DefaultLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

// ForSubsys returns a logger tagged with the subsystem name.
func ForSubsys(subsys string) logrus.FieldLogger {
	return DefaultLogger.WithField(logfields.Subsys, subsys)
}
