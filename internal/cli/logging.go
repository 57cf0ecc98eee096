package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/cashutrack/internal/config"
)

// setupLogging installs the process logger: a text handler on w at Info,
// or at Debug when verbose or cfg.Debug is set. In debug mode the same
// records are also appended to cfg.LogFile. The returned func closes the
// log file, if any.
func setupLogging(cfg config.Config, verbose bool, w io.Writer) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose || cfg.Debug {
		level = slog.LevelDebug
	}

	closeFn := func() error { return nil }
	if cfg.Debug && cfg.LogFile != "" {
		if dir := filepath.Dir(cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closeFn = f.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
