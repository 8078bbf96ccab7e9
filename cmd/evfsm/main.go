// Command evfsm inspects event logs, checks transition tables and runs the
// demo turnstile machine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/evfsm/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
