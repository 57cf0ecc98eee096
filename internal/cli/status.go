package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cashutrack/internal/config"
	"github.com/roach88/cashutrack/internal/store"
	"github.com/roach88/cashutrack/internal/token"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	Driver   string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List persisted pending tokens",
		Long: `List the tokens recorded in the token store, grouped by mint in queue
order. The store is only read. Run it while no tracker is writing to the
same store, otherwise the listing may be stale.

Example:
  cashutrack status --db ./pending.db
  cashutrack status --driver json --db ./pending.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the token store (overrides store_path)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "token store driver: sqlite|json (overrides store_driver)")

	return cmd
}

type statusToken struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Owner      string    `json:"owner,omitempty"`
	Handles    []string  `json:"correlation_handles,omitempty"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type statusMint struct {
	Mint   string        `json:"mint"`
	Tokens []statusToken `json:"tokens"`
}

type statusResult struct {
	Total int          `json:"total"`
	Mints []statusMint `json:"mints"`
}

func (r statusResult) Text() string {
	if r.Total == 0 {
		return "No pending tokens.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending token(s) across %d mint(s)\n", r.Total, len(r.Mints))
	for _, m := range r.Mints {
		fmt.Fprintf(&b, "\n%s (%d)\n", m.Mint, len(m.Tokens))
		for _, t := range m.Tokens {
			owner := t.Owner
			if owner == "" {
				owner = "-"
			}
			fmt.Fprintf(&b, "  %s  %-9s retries=%d  owner=%s  enqueued=%s\n",
				token.ShortID(t.ID), t.State, t.RetryCount, owner, t.EnqueuedAt.Format(time.RFC3339))
		}
	}
	return b.String()
}

func newStatusResult(snap store.Snapshot) statusResult {
	res := statusResult{Total: snap.Len(), Mints: []statusMint{}}
	for _, source := range snap.Sources() {
		m := statusMint{Mint: source}
		for _, r := range snap[source] {
			m.Tokens = append(m.Tokens, statusToken{
				ID:         r.ID,
				State:      string(r.State),
				Owner:      r.Owner,
				Handles:    r.Handles,
				RetryCount: r.RetryCount,
				EnqueuedAt: r.EnqueuedAt,
			})
		}
		res.Mints = append(res.Mints, m)
	}
	return res
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	flags := cmd.Flags()
	cfg, err := loadConfig(opts.RootOptions, func(c *config.Config) {
		if flags.Changed("db") {
			c.StorePath = opts.Database
		}
		if flags.Changed("driver") {
			c.StoreDriver = opts.Driver
		}
	})
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, "invalid configuration", err.Error())
		return err
	}

	// Opening a missing SQLite store would create it.
	if _, err := os.Stat(cfg.StorePath); errors.Is(err, fs.ErrNotExist) {
		formatter.VerboseLog("store %s does not exist", cfg.StorePath)
		return formatter.Success(newStatusResult(nil))
	}

	st, err := openStore(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "cannot open token store", err.Error())
		return WrapExitError(ExitCommandError, "failed to open token store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	snap, err := st.LoadAll(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "cannot read token store", err.Error())
		return WrapExitError(ExitFailure, "failed to read token store", err)
	}

	formatter.VerboseLog("loaded %d records from %s", snap.Len(), cfg.StorePath)
	return formatter.Success(newStatusResult(snap))
}
