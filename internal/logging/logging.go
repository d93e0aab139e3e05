// internal/logging/logging.go
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05"

// New builds the process logger. An unknown level falls back to info.
// The returned closer releases the log file, if one was opened.
func New(cfg config.LogConfig) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	closer := func() error { return nil }

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	}

	switch cfg.Output {
	case "", "stdout":
		log.SetOutput(os.Stdout)
	case "stderr":
		log.SetOutput(os.Stderr)
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", cfg.FilePath, err)
		}
		log.SetOutput(f)
		closer = f.Close
	default:
		return nil, nil, fmt.Errorf("logging: unknown output %q", cfg.Output)
	}

	return log, closer, nil
}

// Discard is a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
