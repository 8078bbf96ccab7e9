package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check feed invariants and determinism",
		Long: `Read the feed twice and check the invariants replay relies on: compacted keys
are unique, compacted offsets are below the tail, offsets strictly increase,
and both reads are identical.

Exit codes:
  0 - Feed is consistent
  1 - Problems found
  2 - Command error (database not found, etc.)

Examples:
  evfsm verify --db ./evfsm.db
  evfsm verify --db ./evfsm.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.RootOptions, cmd, opts.Database, true)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := st.Verify(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read feed", err)
	}

	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		if report.OK() {
			return formatter.Success(report)
		}
		if err := formatter.Failure(ErrCodeVerify, "feed verification failed", report); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("feed verification failed with %d problem(s)", len(report.Problems)))
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Records: %d (tail %d, compacted %d)\n",
		report.Records, report.Stats.TailRecords, report.Stats.CompactedRecords)
	if report.OK() {
		fmt.Fprintln(w, "✓ Feed verified")
		return nil
	}

	fmt.Fprintln(w, "✗ Feed verification failed")
	for _, p := range report.Problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("feed verification failed with %d problem(s)", len(report.Problems)))
}
