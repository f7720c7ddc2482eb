// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects level and output format.
type Config struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Setup applies cfg to the standard logrus logger.
func Setup(cfg Config) error {
	return apply(logrus.StandardLogger(), cfg, os.Stderr)
}

func apply(l *logrus.Logger, cfg Config, out io.Writer) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return fmt.Errorf("logging level: %w", err)
		}
		level = parsed
	}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("logging format %q: want text or json", cfg.Format)
	}

	l.SetLevel(level)
	l.SetOutput(out)
	return nil
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
