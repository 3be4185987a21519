// Package logging configures the process-wide slog logger. The server calls
// Init once after the configuration is loaded; everything else uses the
// default logger through slog.Debug/Info/Warn/Error.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Config controls the handler built by Init.
type Config struct {
	Level  slog.Level
	Dir    string // log directory; empty means stderr only
	Output io.Writer
}

// Init installs the default logger. When cfg.Dir is set, log lines go to
// <Dir>/symdb.log; otherwise to cfg.Output (stderr when nil).
func Init(cfg Config) (*slog.Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, "symdb.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level}))
	slog.SetDefault(logger)
	return logger, nil
}

// ForProject returns a logger tagged with the project name.
func ForProject(name string) *slog.Logger {
	return slog.Default().With("project", name)
}
