package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/evfsm/internal/demo"
	"github.com/roach88/evfsm/internal/fsm"
	"github.com/roach88/evfsm/internal/table"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Machine string
}

// CheckResult holds the outcome of checking one table.
type CheckResult struct {
	Name     string     `json:"name"`
	Policy   string     `json:"policy"`
	Valid    bool       `json:"valid"`
	Problems []string   `json:"problems,omitempty"`
	Pairs    []fsm.Pair `json:"pairs"`
}

// machines are the built-in machines a table can be checked against.
var machines = map[string]func() ([]fsm.Pair, error){
	"turnstile": func() ([]fsm.Pair, error) {
		in, err := demo.Turnstile()
		if err != nil {
			return nil, err
		}
		return in.Pairs(), nil
	},
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <table.cue|dir>",
		Short: "Check a CUE transition table for coverage gaps",
		Long: `Load a CUE transition table and report every coverage problem under its
declared policy: duplicate rules, rules naming undeclared variants, and under
the exhaustive policy every (state, input) pair with no rule or ignore.

With --machine the table is also compared with a built-in machine.

Examples:
  evfsm check ./turnstile.cue
  evfsm check ./turnstile.cue --machine turnstile --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Machine, "machine", "", "compare with a built-in machine (turnstile)")

	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	def, err := table.LoadFile(path)
	if err != nil {
		var le *table.LoadError
		if errors.As(err, &le) && le.Pos.IsValid() {
			_ = formatter.Error(ErrCodeLoad, le.Error(), map[string]any{"line": le.Pos.Line(), "column": le.Pos.Column()})
		} else {
			_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "failed to load table", err)
	}
	formatter.VerboseLog("Loaded table %s from %s", def.Table.Name, path)

	problems := def.Check()
	if opts.Machine != "" {
		pairs, ok := machines[opts.Machine]
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown machine %q", opts.Machine))
		}
		got, err := pairs()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build machine", err)
		}
		problems = append(problems, def.Conforms(got)...)
	}

	result := CheckResult{
		Name:     def.Table.Name,
		Policy:   def.Table.Policy.String(),
		Valid:    len(problems) == 0,
		Problems: problems,
		Pairs:    def.Table.Pairs(),
	}

	if formatter.JSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		if err := formatter.Failure(ErrCodeCoverage, problems[0], result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("check failed with %d problem(s)", len(problems)))
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Table %s (%s): %d state(s), %d command(s), %d event(s)\n",
		def.Table.Name, result.Policy, len(def.Table.States), len(def.Table.Commands), len(def.Table.Events))

	if opts.Verbose && len(result.Pairs) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tSTATE\tINPUT\tRESOLUTION")
		for _, p := range result.Pairs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Kind, p.State, p.Input, p.Resolution)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if result.Valid {
		fmt.Fprintln(w, "✓ No coverage problems")
		return nil
	}

	fmt.Fprintf(w, "✗ %d problem(s)\n", len(problems))
	for _, p := range problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("check failed with %d problem(s)", len(problems)))
}
