package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/evfsm/internal/broadcast"
	"github.com/roach88/evfsm/internal/demo"
	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/machine"
	"github.com/roach88/evfsm/internal/store"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Database string
	Codec    string
	Mode     string
}

// DemoNotification is one committed event as printed by demo.
type DemoNotification struct {
	Offset  eventlog.Offset `json:"offset"`
	Key     string          `json:"key"`
	Event   string          `json:"event"`
	Data    any             `json:"data"`
	State   string          `json:"state"`
	Change  string          `json:"change"`
	Durable bool            `json:"durable"`
}

// DemoResult holds the demo output.
type DemoResult struct {
	Notifications []DemoNotification `json:"notifications"`
	Dropped       uint64             `json:"dropped"`
	State         string             `json:"state"`
}

type turnstileNotification = machine.Notification[demo.State, demo.Event]

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Drive the turnstile machine from stdin",
		Long: `Run the turnstile machine against a SQLite event log. Each stdin line is a
command, "coin" or "push"; blank lines and lines starting with # are skipped.
Committed events are printed from a subscription as they happen.

The machine replays the log first, so running demo again against the same
database resumes from the last committed state.

Examples:
  printf 'coin\npush\n' | evfsm demo --db ./turnstile.db
  evfsm demo --db ./turnstile.db --codec cbor --mode strict`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Codec, "codec", "json", "event encoding (json|cbor)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "append failure mode (optimistic|strict, default from config)")

	return cmd
}

func runDemo(ctx context.Context, opts *DemoOptions, cmd *cobra.Command) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	modeName := cfg.Machine.Mode
	if opts.Mode != "" {
		modeName = opts.Mode
	}
	mode, err := machine.ParseMode(modeName)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid mode", err)
	}
	codec, err := demo.Codec(opts.Codec)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid codec", err)
	}

	st, err := openStore(opts.RootOptions, cmd, opts.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	log, err := store.NewLog[demo.Event](st, codec, cfg.Store.Levels())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open log", err)
	}

	interp, err := demo.Turnstile()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build turnstile", err)
	}

	formatter := opts.formatter(cmd)
	out := cmd.OutOrStdout()
	gateOut := out
	if formatter.JSON() {
		gateOut = cmd.ErrOrStderr()
	}

	bc := broadcast.New[turnstileNotification]()
	sub := bc.Subscribe(cfg.Machine.SubscriberCapacity)

	m, err := machine.New(interp, demo.NewGate(gateOut),
		machine.WithSeed[demo.State](demo.Locked{}),
		machine.WithLog[demo.Event](log),
		machine.WithBroadcaster(bc),
		machine.WithMode(mode),
		machine.WithLogger(opts.Logger(cmd.ErrOrStderr())),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create machine", err)
	}

	inputs := make(chan machine.Input[demo.Command, demo.Event], cfg.Machine.InputBuffer)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, inputs) }()

	result := DemoResult{Notifications: []DemoNotification{}}
	report := func(msg broadcast.Message[turnstileNotification]) {
		if msg.IsGap() {
			if !formatter.JSON() {
				fmt.Fprintf(out, "! %d notification(s) dropped\n", msg.Gap)
			}
			return
		}
		n := toDemoNotification(msg.Item)
		result.Notifications = append(result.Notifications, n)
		if !formatter.JSON() {
			printNotification(out, n)
		}
	}
	drain := func() {
		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				report(msg)
			default:
				return
			}
		}
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c, err := demo.ParseCommand(line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping: %v\n", err)
			continue
		}

		res, err := m.Ask(ctx, inputs, c)
		if err != nil {
			break
		}
		if res.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", line, res.Err)
		}
		if !res.Emitted && !formatter.JSON() {
			fmt.Fprintf(out, "- %s ignored in %s\n", line, demo.Describe(m.State()))
		}
		drain()
	}
	close(inputs)

	runErr := <-errc
	for msg := range sub.C() {
		report(msg)
	}
	result.Dropped = sub.Dropped()
	result.State = demo.Describe(m.State())

	if runErr != nil {
		_ = formatter.Error(ErrCodeGeneric, runErr.Error(), nil)
		if machine.IsFeedError(runErr) {
			return WrapExitError(ExitFailure, "replay failed", runErr)
		}
		return WrapExitError(ExitFailure, "machine failed", runErr)
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read commands", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(out, "State: %s\n", result.State)
	return nil
}

func toDemoNotification(n turnstileNotification) DemoNotification {
	return DemoNotification{
		Offset:  n.Offset,
		Key:     n.Key,
		Event:   eventlog.VariantName(n.Event),
		Data:    n.Event,
		State:   demo.Describe(n.State),
		Change:  n.Change.String(),
		Durable: n.Durable,
	}
}

func printNotification(w io.Writer, n DemoNotification) {
	durable := ""
	if !n.Durable {
		durable = " (not durable)"
	}
	fmt.Fprintf(w, "#%d %s key=%s -> %s [%s]%s\n", n.Offset, n.Event, n.Key, n.State, n.Change, durable)
}
