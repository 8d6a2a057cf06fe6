// Package logging builds the logrus loggers used by the commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amirhf/vibesearch/config"
	"github.com/amirhf/vibesearch/models"
)

// New returns a logger writing to out. verbose forces the debug level.
func New(cfg config.LogConfig, out io.Writer, verbose bool) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	level := logrus.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
		}
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", models.ErrConfiguration, cfg.Format)
	}
	return log, nil
}

// NewFileLogger returns a logger that writes to both base's output and the
// file at path, appending. An empty path yields base itself and a no-op
// closer.
func NewFileLogger(base *logrus.Logger, path string) (*logrus.Logger, io.Closer, error) {
	if path == "" {
		return base, io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening log file: %v", models.ErrConfiguration, err)
	}
	log := logrus.New()
	log.SetOutput(io.MultiWriter(base.Out, f))
	log.SetLevel(base.GetLevel())
	log.SetFormatter(base.Formatter)
	return log, f, nil
}
