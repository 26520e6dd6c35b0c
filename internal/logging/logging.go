// Package logging builds the node's zerolog logger: console output,
// optionally tee'd into a size-rotated log file with a bounded number of
// backups.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
	Console    bool
}

// New builds the logger. The returned closer owns the log file, if any.
func New(cfg Config, service string) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	var closer io.Closer
	if cfg.Console {
		writers = append(writers, zerolog.NewConsoleWriter())
	}
	if cfg.File != "" {
		rw, err := newRollingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writers = append(writers, rw)
		closer = rw
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		return zerolog.Nop(), nil, nil
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Str("service", service).
		Logger()
	return logger, closer, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
