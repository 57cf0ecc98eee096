package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cashutrack/internal/config"
	"github.com/roach88/cashutrack/internal/engine"
	"github.com/roach88/cashutrack/internal/notify"
	"github.com/roach88/cashutrack/internal/oracle"
	"github.com/roach88/cashutrack/internal/token"
)

const (
	shutdownTimeout = 30 * time.Second
	maxLineBytes    = 1 << 20
	drainCheckEvery = 10 * time.Millisecond
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database     string
	Driver       string
	Input        string
	Drain        bool
	PollInterval time.Duration
	CheckPath    string

	// HTTPClient overrides the mint transport (for testing).
	HTTPClient *http.Client
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track announced tokens until they are claimed",
		Long: `Resume tracking of persisted tokens and admit new announcements.

Announcements are read one per line from --input (stdin by default):

  <owner> <token> [handle...]

Blank lines and lines starting with '#' are skipped. An owner of "-" is
anonymous. Lifecycle events are printed to stdout as they happen.

Without --drain the command keeps polling after the input ends until it is
interrupted. With --drain it exits once every token has been resolved.

Example:
  cashutrack run --db ./pending.db < announcements.txt
  cashutrack run --driver json --db ./pending.json --input tokens.txt --drain --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracker(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the token store (overrides store_path)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "token store driver: sqlite|json (overrides store_driver)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "announcement source, - for stdin")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "exit once the input is consumed and no token is pending")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 0, "recheck interval (overrides poll_interval)")
	cmd.Flags().StringVar(&opts.CheckPath, "check-path", "", "mint endpoint path for state checks (overrides check_path)")

	return cmd
}

func runTracker(opts *RunOptions, cmd *cobra.Command) error {
	flags := cmd.Flags()
	cfg, err := loadConfig(opts.RootOptions, func(c *config.Config) {
		if flags.Changed("db") {
			c.StorePath = opts.Database
		}
		if flags.Changed("driver") {
			c.StoreDriver = opts.Driver
		}
		if flags.Changed("poll-interval") {
			c.PollInterval = opts.PollInterval
		}
		if flags.Changed("check-path") {
			c.CheckPath = opts.CheckPath
		}
	})
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(cfg, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() {
		if closeErr := closeLog(); closeErr != nil {
			logger.Error("error closing log file", "error", closeErr)
		}
	}()

	input, closeInput, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeInput()

	logger.Info("opening token store", "driver", cfg.StoreDriver, "path", cfg.StorePath)
	st, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open token store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing token store", "error", closeErr)
		}
	}()

	writer, err := notify.NewWriterSink(cmd.OutOrStdout(), opts.Format)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output sink", err)
	}
	sink := notify.Fanout{writer}
	if opts.Verbose {
		sink = append(sink, notify.LogSink{Logger: logger})
	}

	client := oracle.New(
		oracle.WithCheckPath(cfg.CheckPath),
		oracle.WithHTTPClient(opts.HTTPClient),
	)

	engineOpts := append(cfg.EngineOptions(), engine.WithLogger(logger))
	eng := engine.New(st, token.Decoder{}, client, sink, engineOpts...)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := eng.Resume(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to resume tracking", err)
	}
	logger.Info("tracker started",
		"resumed", eng.Pending().Len(),
		"poll_interval", cfg.PollInterval,
		"event", "tracker_started",
	)

	var stats admitStats
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		stats = admitAll(input, eng, logger)
	}()

	select {
	case <-readDone:
		logger.Info("input consumed",
			"tracked", stats.tracked,
			"rejected", stats.rejected,
		)
		if opts.Drain {
			waitDrained(ctx, eng)
		} else {
			<-ctx.Done()
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}

	select {
	case <-readDone:
	default:
		// The reader is still blocked on input; its counts are incomplete.
		return nil
	}
	if stats.err != nil {
		return WrapExitError(ExitFailure, "failed to read input", stats.err)
	}
	if stats.rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d announcement(s) rejected", stats.rejected))
	}
	return nil
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

type admitStats struct {
	tracked  int
	rejected int
	err      error
}

// admitAll tracks every announcement read from r.
func admitAll(r io.Reader, eng *engine.Engine, logger *slog.Logger) admitStats {
	var stats admitStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		a, err := parseAnnouncement(line)
		if err == nil {
			_, err = eng.Track(a)
		}
		if err != nil {
			stats.rejected++
			logger.Warn("announcement rejected",
				"line", lineNo,
				"error", err,
				"event", "announcement_rejected",
			)
			if engine.IsNotRunning(err) {
				break
			}
			continue
		}
		stats.tracked++
	}
	if err := scanner.Err(); err != nil {
		stats.err = err
	}
	return stats
}

var errMalformedLine = errors.New("expected: <owner> <token> [handle...]")

// parseAnnouncement splits "<owner> <token> [handle...]".
func parseAnnouncement(line string) (engine.Announcement, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return engine.Announcement{}, errMalformedLine
	}
	owner := fields[0]
	if owner == "-" {
		owner = ""
	}
	var handles []string
	if len(fields) > 2 {
		handles = fields[2:]
	}
	return engine.Announcement{
		Payload: fields[1],
		Owner:   owner,
		Handles: handles,
	}, nil
}

// waitDrained blocks until no token is pending or ctx ends.
func waitDrained(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(drainCheckEvery)
	defer ticker.Stop()
	for {
		if eng.Pending().Len() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
