package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/evfsm/internal/eventlog"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// InspectRecord is one feed record as shown by inspect.
type InspectRecord struct {
	Offset    eventlog.Offset `json:"offset"`
	Key       string          `json:"key"`
	Compacted bool            `json:"compacted"`
	Value     string          `json:"value"`
}

// InspectResult holds the inspect output.
type InspectResult struct {
	Database string          `json:"database"`
	Stats    eventlog.Stats  `json:"stats"`
	Records  []InspectRecord `json:"records"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show log statistics and the feed in replay order",
		Long: `Show the statistics of an event log and every record of its feed, in the
order a machine would replay them: compacted records first, then the tail.

JSON values are printed as stored, CBOR values in diagnostic notation.

Examples:
  evfsm inspect --db ./evfsm.db
  evfsm inspect --db ./evfsm.db --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many records (0 = all)")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.RootOptions, cmd, opts.Database, true)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	result := InspectResult{
		Database: st.Path(),
		Stats:    stats,
		Records:  []InspectRecord{},
	}
	for rec, err := range st.Records(ctx) {
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read feed", err)
		}
		if opts.Limit > 0 && len(result.Records) == opts.Limit {
			break
		}
		result.Records = append(result.Records, InspectRecord{
			Offset:    rec.Offset,
			Key:       rec.Key,
			Compacted: rec.Compacted,
			Value:     renderValue(rec.Value),
		})
	}

	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputInspectText(cmd, result)
}

func outputInspectText(cmd *cobra.Command, result InspectResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Tail records: %d, compacted records: %d, last offset: %d\n",
		result.Stats.TailRecords, result.Stats.CompactedRecords, result.Stats.LastOffset)

	if len(result.Records) == 0 {
		fmt.Fprintln(w, "Log is empty.")
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSECTION\tKEY\tVALUE")
	for _, rec := range result.Records {
		section := "tail"
		if rec.Compacted {
			section = "compacted"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Offset, section, rec.Key, rec.Value)
	}
	return tw.Flush()
}
