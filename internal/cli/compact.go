package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/store"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	Database  string
	Watermark int64
	Auto      bool
	Low       int
	High      int
}

// CompactOutput holds the compact result.
type CompactOutput struct {
	Compacted bool                `json:"compacted"`
	Result    store.CompactResult `json:"result"`
	Stats     eventlog.Stats      `json:"stats"`
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the event log at a watermark",
		Long: `Compact the event log. Every key whose newest tail record is at or below the
watermark moves to the compacted table, then all tail records at or below the
watermark are removed.

With --auto the watermark is derived from the compaction levels: when the tail
holds more than the high level, it is cut down to the low level.

Examples:
  evfsm compact --db ./evfsm.db --watermark 120
  evfsm compact --db ./evfsm.db --auto --low 100 --high 1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().Int64Var(&opts.Watermark, "watermark", 0, "compact every record at or below this offset")
	cmd.Flags().BoolVar(&opts.Auto, "auto", false, "derive the watermark from the compaction levels")
	cmd.Flags().IntVar(&opts.Low, "low", 0, "low level for --auto (default from config)")
	cmd.Flags().IntVar(&opts.High, "high", 0, "high level for --auto (default from config)")
	cmd.MarkFlagsMutuallyExclusive("watermark", "auto")
	cmd.MarkFlagsOneRequired("watermark", "auto")

	return cmd
}

func runCompact(ctx context.Context, opts *CompactOptions, cmd *cobra.Command) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	levels := cfg.Store.Levels()
	if cmd.Flags().Changed("low") {
		levels.Low = opts.Low
	}
	if cmd.Flags().Changed("high") {
		levels.High = opts.High
	}
	if opts.Auto {
		if !levels.Enabled() {
			return NewExitError(ExitCommandError, "--auto needs a high level (set --high or store.high_level)")
		}
		if err := levels.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid compaction levels", err)
		}
	} else if opts.Watermark < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("watermark must be >= 0, got %d", opts.Watermark))
	}

	st, err := openStore(opts.RootOptions, cmd, opts.Database, true)
	if err != nil {
		return err
	}
	defer st.Close()

	out := CompactOutput{Compacted: true}
	if opts.Auto {
		out.Result, out.Compacted, err = st.CompactLevels(ctx, levels)
	} else {
		out.Result, err = st.Compact(ctx, eventlog.Offset(opts.Watermark))
	}
	if err != nil {
		return WrapExitError(ExitFailure, "compaction failed", err)
	}

	out.Stats, err = st.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		return formatter.Success(out)
	}

	w := cmd.OutOrStdout()
	if !out.Compacted {
		fmt.Fprintf(w, "Tail holds %d record(s), within levels (low %d, high %d); nothing to compact\n",
			out.Stats.TailRecords, levels.Low, levels.High)
		return nil
	}
	fmt.Fprintf(w, "✓ Compacted at watermark %d: promoted %d, removed %d\n",
		out.Result.Watermark, out.Result.Promoted, out.Result.Removed)
	fmt.Fprintf(w, "Tail records: %d, compacted records: %d\n",
		out.Stats.TailRecords, out.Stats.CompactedRecords)
	return nil
}
