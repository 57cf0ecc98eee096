package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cashutrack/internal/token"
)

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "Show the contents of a Cashu token",
		Long: `Decode a cashuA (v3) or cashuB (v4) token and print its mint, unit,
memo, amount and tracking id. The mint is not contacted.

Example:
  cashutrack decode cashuAeyJ0b2tlbiI6...
  cashutrack decode --format json cashuBo2F0...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

type decodeResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Mint    string `json:"mint"`
	Unit    string `json:"unit,omitempty"`
	Memo    string `json:"memo,omitempty"`
	Amount  uint64 `json:"amount"`
	Proofs  int    `json:"proofs"`
}

func (r decodeResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version: %d\n", r.Version)
	fmt.Fprintf(&b, "Mint:    %s\n", r.Mint)
	if r.Unit != "" {
		fmt.Fprintf(&b, "Unit:    %s\n", r.Unit)
	}
	if r.Memo != "" {
		fmt.Fprintf(&b, "Memo:    %s\n", r.Memo)
	}
	fmt.Fprintf(&b, "Amount:  %d (%d proofs)\n", r.Amount, r.Proofs)
	fmt.Fprintf(&b, "ID:      %s\n", r.ID)
	return b.String()
}

func runDecode(opts *RootOptions, payload string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	payload = strings.TrimSpace(payload)
	decoded, err := token.Decode(payload)
	if err != nil {
		_ = formatter.Error(ErrCodeToken, "cannot decode token", err.Error())
		return WrapExitError(ExitFailure, "cannot decode token", err)
	}

	formatter.VerboseLog("decoded v%d token with %d proofs", decoded.Version, len(decoded.Proofs))
	return formatter.Success(decodeResult{
		ID:      token.ID(payload),
		Version: decoded.Version,
		Mint:    decoded.Mint,
		Unit:    decoded.Unit,
		Memo:    decoded.Memo,
		Amount:  decoded.Amount(),
		Proofs:  len(decoded.Proofs),
	})
}
